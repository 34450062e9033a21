package model

import "slices"

type (
	// Conversation is the local record of one chat. NextPair is the frontier
	// the chain is read from; RootPair is the first slot ever used.
	Conversation struct {
		UUID              string   `json:"uuid"`
		ConversationID    string   `json:"conversationId"`
		RootPair          KeyPair  `json:"rootPair"`
		NextPair          KeyPair  `json:"nextPair"`
		LastSeenTimestamp int64    `json:"lastSeenTimestamp"`
		GroupAdminPub     string   `json:"groupAdminPub,omitempty"`
		MemberPubs        []string `json:"memberPubs,omitempty"`
		GroupPair         *KeyPair `json:"groupPair,omitempty"`
		GroupTimestamp    int64    `json:"groupTimestamp,omitempty"`

		// FormerGroupPairs still open notices sealed before a renewal.
		FormerGroupPairs []KeyPair `json:"formerGroupPairs,omitempty"`
		Name             string    `json:"name,omitempty"`
		CreatedTimestamp int64     `json:"createdTimestamp"`
	}

	// Group is the membership record an admin publishes under the group pair.
	Group struct {
		MemberPubs  []string `json:"memberPubs"`
		DisplayName string   `json:"displayName,omitempty"`
	}
)

func (c Conversation) IsGroup() bool {
	return len(c.MemberPubs) > 0
}

func (c Conversation) IsAdmin(pub string) bool {
	return c.IsGroup() && c.GroupAdminPub == pub
}

// Equal compares two conversations field by field.
func (c Conversation) Equal(o Conversation) bool {
	if c.GroupPair == nil || o.GroupPair == nil {
		if c.GroupPair != o.GroupPair {
			return false
		}
	} else if *c.GroupPair != *o.GroupPair {
		return false
	}
	return c.UUID == o.UUID &&
		c.ConversationID == o.ConversationID &&
		c.RootPair == o.RootPair &&
		c.NextPair == o.NextPair &&
		c.LastSeenTimestamp == o.LastSeenTimestamp &&
		c.GroupAdminPub == o.GroupAdminPub &&
		slices.Equal(c.MemberPubs, o.MemberPubs) &&
		c.GroupTimestamp == o.GroupTimestamp &&
		slices.Equal(c.FormerGroupPairs, o.FormerGroupPairs) &&
		c.Name == o.Name &&
		c.CreatedTimestamp == o.CreatedTimestamp
}
