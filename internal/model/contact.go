package model

type (
	// Contact is unique by Pub; UUID is stable across updates of the same Pub.
	Contact struct {
		UUID        string `json:"uuid"`
		Alias       string `json:"alias"`
		DisplayName string `json:"name,omitempty"`
		Pub         string `json:"pub"`
		Epub        string `json:"epub"`
	}

	// Profile is the public, signed record every account publishes.
	Profile struct {
		Alias     string `json:"alias"`
		Name      string `json:"name,omitempty"`
		Pub       string `json:"pub"`
		Epub      string `json:"epub"`
		Signature string `json:"sig"`
	}

	// Session is the authenticated user, handed to every component that acts
	// on the user's behalf.
	Session struct {
		Alias string
		Name  string
		Pair  KeyPair
	}
)

// Label is the name shown for a contact: display name, else alias.
func (c Contact) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Alias
}

// SignedBytes is the byte string a profile signature covers.
func (p Profile) SignedBytes() []byte {
	return []byte(p.Alias + "\x00" + p.Name + "\x00" + p.Pub + "\x00" + p.Epub)
}
