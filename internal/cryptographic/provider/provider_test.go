package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedSecretIsSymmetric(t *testing.T) {
	p := New()
	alice, err := p.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := p.GenerateKeyPair()
	require.NoError(t, err)

	ab, err := p.SharedSecret(bob.Epub, alice)
	require.NoError(t, err)
	ba, err := p.SharedSecret(alice.Epub, bob)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
}

func TestEncryptDecrypt(t *testing.T) {
	p := New()
	pair, err := p.GenerateKeyPair()
	require.NoError(t, err)
	other, err := p.GenerateKeyPair()
	require.NoError(t, err)

	key, err := p.PairSecret(pair)
	require.NoError(t, err)
	wrong, err := p.PairSecret(other)
	require.NoError(t, err)

	ct, err := p.Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	plain, err := p.Decrypt(ct, key)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))

	_, err = p.Decrypt(ct, wrong)
	require.ErrorIs(t, err, ErrMismatch)

	_, err = p.Decrypt([]byte("garbage"), key)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestSignVerify(t *testing.T) {
	p := New()
	pair, err := p.GenerateKeyPair()
	require.NoError(t, err)

	sig, err := p.Sign(pair, []byte("profile"))
	require.NoError(t, err)
	require.True(t, p.Verify(pair.Pub, []byte("profile"), sig))
	require.False(t, p.Verify(pair.Pub, []byte("tampered"), sig))
}

func TestCheckKeyPair(t *testing.T) {
	p := New()
	pair, err := p.GenerateKeyPair()
	require.NoError(t, err)
	other, err := p.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, CheckKeyPair(pair))

	mixed := pair
	mixed.Epub = other.Epub
	require.ErrorIs(t, CheckKeyPair(mixed), ErrMalformedKey)
}

func TestValidPublicKey(t *testing.T) {
	pair, err := New().GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, ValidPublicKey(pair.Pub))
	require.ErrorIs(t, ValidPublicKey("not a key"), ErrMalformedKey)
	require.ErrorIs(t, ValidPublicKey(""), ErrMalformedKey)
}

func TestHashIsDeterministic(t *testing.T) {
	p := New()
	a, err := p.Hash([]byte("x"))
	require.NoError(t, err)
	b, err := p.Hash([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}
