package signature

import (
	"crypto/ed25519"
	"crypto/rand"
)

func NewEd25519Keypair() (pub, priv []byte, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privKeyBytes), message)
}

func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, signature)
}

// PublicKey returns the public half embedded in an ed25519 private key.
func PublicKey(privKeyBytes []byte) ([]byte, bool) {
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		return nil, false
	}
	return []byte(ed25519.PrivateKey(privKeyBytes).Public().(ed25519.PublicKey)), true
}
