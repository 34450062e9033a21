package provider

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"cyphr/internal/cryptographic/dh"
	"cyphr/internal/cryptographic/encryption"
	"cyphr/internal/cryptographic/kdf"
	"cyphr/internal/cryptographic/signature"
	"cyphr/internal/model"
)

var (
	// ErrMismatch means the ciphertext is not readable with the given key.
	// Readers treat it as "not for me", never as a failure.
	ErrMismatch = errors.New("ciphertext not decryptable with this key")

	// ErrMalformedKey is returned for keys that do not decode to the right size.
	ErrMalformedKey = errors.New("malformed key")
)

const (
	infoShared = "cyphr/shared-secret"
	infoPair   = "cyphr/pair-secret"
)

var b64 = base64.RawURLEncoding

type (
	// Secret is a symmetric key usable with Encrypt/Decrypt.
	Secret []byte

	// Provider is the set of cryptographic operations the chat logic consumes.
	Provider interface {
		GenerateKeyPair() (model.KeyPair, error)
		// SharedSecret derives the same secret for (A.Epub, B) and (B.Epub, A).
		SharedSecret(theirEpub string, mine model.KeyPair) (Secret, error)
		// PairSecret derives a key only the holder of pair can compute.
		PairSecret(pair model.KeyPair) (Secret, error)
		Encrypt(data []byte, key Secret) ([]byte, error)
		// Decrypt returns ErrMismatch when key does not open ciphertext.
		Decrypt(ciphertext []byte, key Secret) ([]byte, error)
		Hash(data []byte) (string, error)
		Sign(pair model.KeyPair, data []byte) (string, error)
		Verify(pub string, data []byte, sig string) bool
	}

	// Default implements Provider with ed25519, X25519, HKDF-SHA256 and AES-256-GCM.
	Default struct{}
)

func New() *Default {
	return &Default{}
}

func (p *Default) GenerateKeyPair() (model.KeyPair, error) {
	pub, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		return model.KeyPair{}, fmt.Errorf("generate signing pair: %w", err)
	}
	epriv, epub, err := dh.NewX25519KeyPair()
	if err != nil {
		return model.KeyPair{}, fmt.Errorf("generate encryption pair: %w", err)
	}
	return model.KeyPair{
		Pub:   b64.EncodeToString(pub),
		Priv:  b64.EncodeToString(priv),
		Epub:  b64.EncodeToString(epub[:]),
		Epriv: b64.EncodeToString(epriv[:]),
	}, nil
}

func (p *Default) SharedSecret(theirEpub string, mine model.KeyPair) (Secret, error) {
	pub, err := decodeKey(theirEpub, 32)
	if err != nil {
		return nil, err
	}
	priv, err := decodeKey(mine.Epriv, 32)
	if err != nil {
		return nil, err
	}
	shared, err := dh.X25519SharedSecret(priv, pub)
	if err != nil {
		return nil, err
	}
	key, err := kdf.Key(shared, infoShared)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (p *Default) PairSecret(pair model.KeyPair) (Secret, error) {
	priv, err := decodeKey(pair.Epriv, 32)
	if err != nil {
		return nil, err
	}
	key, err := kdf.Key(priv, infoPair)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (p *Default) Encrypt(data []byte, key Secret) ([]byte, error) {
	return encryption.AEADEncrypt(key, data, nil)
}

func (p *Default) Decrypt(ciphertext []byte, key Secret) ([]byte, error) {
	plain, err := encryption.AEADDecrypt(key, ciphertext, nil)
	if err != nil {
		return nil, ErrMismatch
	}
	return plain, nil
}

func (p *Default) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return b64.EncodeToString(sum[:]), nil
}

func (p *Default) Sign(pair model.KeyPair, data []byte) (string, error) {
	priv, err := decodeKey(pair.Priv, 64)
	if err != nil {
		return "", err
	}
	return b64.EncodeToString(signature.ED25519Sign(priv, data)), nil
}

func (p *Default) Verify(pub string, data []byte, sig string) bool {
	key, err := decodeKey(pub, 32)
	if err != nil {
		return false
	}
	raw, err := b64.DecodeString(sig)
	if err != nil {
		return false
	}
	return signature.ED25519Verify(key, data, raw)
}

// ValidPublicKey checks that pub decodes to a 32 byte key.
func ValidPublicKey(pub string) error {
	_, err := decodeKey(pub, 32)
	return err
}

// CheckKeyPair verifies that the public halves belong to the private halves.
func CheckKeyPair(pair model.KeyPair) error {
	priv, err := decodeKey(pair.Priv, 64)
	if err != nil {
		return err
	}
	pub, ok := signature.PublicKey(priv)
	if !ok || b64.EncodeToString(pub) != pair.Pub {
		return fmt.Errorf("%w: signing pair mismatch", ErrMalformedKey)
	}
	epriv, err := decodeKey(pair.Epriv, 32)
	if err != nil {
		return err
	}
	epub, err := dh.PublicKey(epriv)
	if err != nil || b64.EncodeToString(epub) != pair.Epub {
		return fmt.Errorf("%w: encryption pair mismatch", ErrMalformedKey)
	}
	return nil
}

// PasswordSecret stretches a password into a Secret.
func PasswordSecret(password string, salt []byte) Secret {
	return kdf.Password(password, salt)
}

// EncryptJSON marshals v and encrypts it under key.
func EncryptJSON(p Provider, v any, key Secret) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return p.Encrypt(data, key)
}

// DecryptJSON decrypts ciphertext under key into v. It returns ErrMismatch
// when the key does not fit.
func DecryptJSON(p Provider, ciphertext []byte, key Secret, v any) error {
	data, err := p.Decrypt(ciphertext, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func decodeKey(s string, size int) ([]byte, error) {
	raw, err := b64.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedKey, size, len(raw))
	}
	return raw, nil
}
