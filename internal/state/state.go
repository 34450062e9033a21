package state

import (
	"maps"

	"cyphr/internal/model"
)

type (
	// Policy tunes request admission.
	Policy struct {
		// RequireKnownMembers suppresses group invites in which no member is
		// a contact.
		RequireKnownMembers bool
	}

	Login struct {
		Alias string
		Name  string
		// Pair holds the public halves only.
		Pair     model.KeyPair
		LoggedIn bool
		Err      string
	}

	ContactError struct {
		Pub    string
		Reason string
	}

	// State is the whole client view. Reducers never modify a State in
	// place; slices and maps are replaced when they change, so snapshots can
	// be shared freely.
	State struct {
		Policy Policy
		Login  Login

		// Contacts are sorted by lower-cased label.
		Contacts     []model.Contact
		ContactError *ContactError

		Conversations []model.Conversation
		Selected      string

		// Requests are pending handshakes, newest first.
		Requests      []model.ContactRequest
		Removed       map[string]bool
		RequestErrors map[string]string

		// Messages are kept in arrival order.
		Messages  []model.Message
		SendError string
	}
)

// New returns an empty state under policy.
func New(policy Policy) State {
	return State{Policy: policy}
}

// Conversation finds a conversation by its local uuid.
func (s State) Conversation(uuid string) (model.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.UUID == uuid {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// SelectedConversation is the conversation the user has open.
func (s State) SelectedConversation() (model.Conversation, bool) {
	if s.Selected == "" {
		return model.Conversation{}, false
	}
	return s.Conversation(s.Selected)
}

// Contact finds a contact by public key.
func (s State) Contact(pub string) (model.Contact, bool) {
	for _, c := range s.Contacts {
		if c.Pub == pub {
			return c, true
		}
	}
	return model.Contact{}, false
}

func (s State) hasMessage(uuid string) bool {
	for _, m := range s.Messages {
		if m.UUID == uuid {
			return true
		}
	}
	return false
}

func withFlag(m map[string]bool, key string) map[string]bool {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]bool)
	}
	out[key] = true
	return out
}

func withString(m map[string]string, key, value string) map[string]string {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]string)
	}
	out[key] = value
	return out
}

func without(m map[string]string, keys ...string) map[string]string {
	found := false
	for _, k := range keys {
		if _, ok := m[k]; ok {
			found = true
		}
	}
	if !found {
		return m
	}
	out := maps.Clone(m)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
