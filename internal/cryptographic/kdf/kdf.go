package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	KeySize      = 32
)

// HKDF fills buffer with HKDF-SHA256 output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Key derives a KeySize key from secret under the given domain label.
func Key(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := HKDF(secret, nil, []byte(info), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Password stretches a password with argon2id.
func Password(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeySize)
}
