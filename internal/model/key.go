package model

type (
	// KeyPair is a signing pair (Pub/Priv, ed25519) bundled with an
	// encryption pair (Epub/Epriv, X25519). Keys are base64url without padding.
	//
	// A pair used as a chain slot addresses exactly one message.
	KeyPair struct {
		Pub   string `json:"pub"`
		Epub  string `json:"epub"`
		Priv  string `json:"priv,omitempty"`
		Epriv string `json:"epriv,omitempty"`
	}
)

// IsZero reports whether the pair is unset.
func (p KeyPair) IsZero() bool {
	return p.Pub == "" && p.Epub == ""
}

// Public strips the private halves.
func (p KeyPair) Public() KeyPair {
	return KeyPair{Pub: p.Pub, Epub: p.Epub}
}
