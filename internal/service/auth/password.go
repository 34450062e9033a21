package auth

import (
	"strings"
	"unicode"
)

const (
	minPasswordLength = 8
	passwordSymbols   = "!\"#$%&'()*+,-./:;<=>?@[]^_`{|}~"
)

// ValidatePassword enforces the password policy: at least eight characters
// with an upper case letter, a lower case letter, a digit and a symbol.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len([]rune(password)) < minPasswordLength {
		return ErrWeakPassword
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return ErrWeakPassword
	}
	return nil
}

// CheckConfirmation validates a new password together with its confirmation.
func CheckConfirmation(password, confirmation string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirmation {
		return ErrConfirmation
	}
	return nil
}
