package state

import (
	"slices"
	"strings"

	"cyphr/internal/model"
)

// InConversation reports whether m belongs to the conversation with id
// conversationID: either it was sent into that conversation, or it was sent
// to loginPub by the counterparty.
func InConversation(loginPub, conversationID string, m model.Message) bool {
	if m.ConversationID == conversationID {
		return true
	}
	return m.ConversationID == loginPub && m.SenderPub == conversationID
}

// ConversationMessages selects the messages of one conversation sorted by
// timestamp.
func ConversationMessages(loginPub, conversationID string, messages []model.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		if InConversation(loginPub, conversationID, m) {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Message) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return out
}

// Visible drops control messages.
func Visible(messages []model.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		if m.Content.Visible() {
			out = append(out, m)
		}
	}
	return out
}

// LatestTimestamp is the newest timestamp in messages, or zero.
func LatestTimestamp(messages []model.Message) int64 {
	var ts int64
	for _, m := range messages {
		ts = max(ts, m.Timestamp)
	}
	return ts
}

// GroupName is the group's own name, or the names of its members joined by
// commas.
func GroupName(login Login, contacts []model.Contact, conv model.Conversation) string {
	if conv.Name != "" {
		return conv.Name
	}

	var labels []string
	for _, pub := range conv.MemberPubs {
		label := ""
		if pub == login.Pair.Pub {
			label = login.Name
			if label == "" {
				label = login.Alias
			}
		} else if i := slices.IndexFunc(contacts, func(c model.Contact) bool { return c.Pub == pub }); i >= 0 {
			label = contacts[i].Label()
		}
		if label != "" {
			labels = append(labels, label)
		}
	}
	return strings.Join(labels, ", ")
}

// ConversationName is what a conversation is listed as.
func ConversationName(s State, conv model.Conversation) string {
	if conv.IsGroup() {
		return GroupName(s.Login, s.Contacts, conv)
	}
	if c, ok := s.Contact(conv.ConversationID); ok {
		return c.Label()
	}
	return conv.ConversationID
}

// Unread reports whether conv has messages newer than its last seen mark.
func Unread(s State, conv model.Conversation) bool {
	for _, m := range Visible(ConversationMessages(s.Login.Pair.Pub, conv.ConversationID, s.Messages)) {
		if m.SenderPub != s.Login.Pair.Pub && m.Timestamp > conv.LastSeenTimestamp {
			return true
		}
	}
	return false
}
