package state

import (
	"slices"
	"strings"

	"cyphr/internal/model"
)

type reducer func(State, Event) (State, []Effect)

// Contacts come before conversations and conversations before requests:
// resolving a request reads both.
var reducers = []reducer{
	reduceLogin,
	reduceContacts,
	reduceConversations,
	reduceRequests,
	reduceMessages,
}

// Reduce applies e to s. Delivering the same event twice leaves the state as
// it was after the first delivery and produces no further effects.
func Reduce(s State, e Event) (State, []Effect) {
	var effects []Effect
	for _, r := range reducers {
		var out []Effect
		s, out = r(s, e)
		effects = append(effects, out...)
	}
	return s, effects
}

func reduceLogin(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case LoginSucceeded:
		s.Login = Login{Alias: e.Alias, Name: e.Name, Pair: e.Pair.Public(), LoggedIn: true}
	case LoginFailed:
		s.Login = Login{Err: e.Reason}
	case LoginRenamed:
		s.Login.Name = e.Name
	case LoggedOut:
		s = New(s.Policy)
	}
	return s, nil
}

func reduceContacts(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case ContactAppended:
		s.Contacts = appendContact(s.Contacts, e.Contact)
		if s.ContactError != nil && s.ContactError.Pub == e.Contact.Pub {
			s.ContactError = nil
		}
	case ContactAppendFailed:
		s.ContactError = &ContactError{Pub: e.Pub, Reason: e.Reason}
	case ContactDeleted:
		i := slices.IndexFunc(s.Contacts, func(c model.Contact) bool {
			if e.Pub != "" {
				return c.Pub == e.Pub
			}
			return c.UUID == e.UUID
		})
		if i >= 0 {
			s.Contacts = slices.Delete(slices.Clone(s.Contacts), i, i+1)
		}
	}
	return s, nil
}

func contactName(c model.Contact) string {
	return strings.ToLower(c.Label())
}

func appendContact(contacts []model.Contact, c model.Contact) []model.Contact {
	if i := slices.IndexFunc(contacts, func(o model.Contact) bool { return o.Pub == c.Pub }); i >= 0 {
		if contacts[i] == c {
			return contacts
		}
		contacts = slices.Delete(slices.Clone(contacts), i, i+1)
	}

	name := contactName(c)
	j := slices.IndexFunc(contacts, func(o model.Contact) bool { return contactName(o) > name })
	if j < 0 {
		j = len(contacts)
	}
	return slices.Insert(slices.Clip(contacts), j, c)
}

func reduceConversations(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case ConversationInit:
		s.Selected = ""
	case ConversationAppended:
		s.Conversations = appendConversation(s.Conversations, e.Conversation)
	case ConversationDeleted:
		i := slices.IndexFunc(s.Conversations, func(c model.Conversation) bool { return c.UUID == e.UUID })
		if i >= 0 {
			s.Conversations = slices.Delete(slices.Clone(s.Conversations), i, i+1)
		}
		if s.Selected == e.UUID {
			s.Selected = ""
		}
	case ConversationDeselected:
		s.Selected = ""
	case ConversationSelected:
		return selectConversation(s, e)
	case MessageAppended:
		return messageArrived(s, e.Message)
	}
	return s, nil
}

// appendConversation dedupes by conversation id. Of two different records
// for one id, the one created later wins.
func appendConversation(convs []model.Conversation, c model.Conversation) []model.Conversation {
	i := slices.IndexFunc(convs, func(o model.Conversation) bool { return o.ConversationID == c.ConversationID })
	if i < 0 {
		return append(slices.Clip(convs), c)
	}
	current := convs[i]
	if current.Equal(c) || c.CreatedTimestamp < current.CreatedTimestamp {
		return convs
	}
	return replaceConversation(convs, i, c)
}

func replaceConversation(convs []model.Conversation, i int, c model.Conversation) []model.Conversation {
	out := slices.Clone(convs)
	out[i] = c
	return out
}

func selectConversation(s State, e ConversationSelected) (State, []Effect) {
	i := slices.IndexFunc(s.Conversations, func(c model.Conversation) bool { return c.UUID == e.UUID })
	if i < 0 {
		return s, nil
	}
	s.Selected = e.UUID

	conv := s.Conversations[i]
	ts := e.Timestamp
	if ts == 0 {
		ts = LatestTimestamp(ConversationMessages(s.Login.Pair.Pub, conv.ConversationID, s.Messages))
	}
	if ts <= conv.LastSeenTimestamp {
		return s, nil
	}
	conv.LastSeenTimestamp = ts
	s.Conversations = replaceConversation(s.Conversations, i, conv)
	return s, []Effect{UpdateLastSeen{ConversationUUID: conv.UUID, Timestamp: ts}}
}

func messageArrived(s State, m model.Message) (State, []Effect) {
	if s.hasMessage(m.UUID) {
		return s, nil
	}
	me := s.Login.Pair.Pub
	i := slices.IndexFunc(s.Conversations, func(c model.Conversation) bool {
		return InConversation(me, c.ConversationID, m)
	})
	if i < 0 {
		return s, nil
	}

	var effects []Effect
	conv := s.Conversations[i]
	switch {
	case conv.UUID == s.Selected:
		if m.Timestamp > conv.LastSeenTimestamp {
			conv.LastSeenTimestamp = m.Timestamp
			s.Conversations = replaceConversation(s.Conversations, i, conv)
			effects = append(effects, UpdateLastSeen{ConversationUUID: conv.UUID, Timestamp: m.Timestamp})
		}
	case m.Content.Visible() && m.SenderPub != me && m.Timestamp > conv.LastSeenTimestamp:
		effects = append(effects, Notify{Conversation: conv, Message: m})
	}

	if !conv.IsGroup() {
		return s, effects
	}
	switch m.Content.Kind {
	case model.KindRenewGroup:
		if m.Content.RenewPair != nil && m.Timestamp > conv.GroupTimestamp {
			effects = append(effects,
				RenewGroupPair{ConversationUUID: conv.UUID, Pair: *m.Content.RenewPair, Timestamp: m.Timestamp},
				RefreshGroup{ConversationUUID: conv.UUID},
			)
		}
	case model.KindUpdateGroup:
		effects = append(effects, RefreshGroup{ConversationUUID: conv.UUID})
	}
	return s, effects
}

func reduceRequests(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case ConversationInit:
		s.RequestErrors = nil
	case RequestAppended:
		d := AdmitRequest(s, e.Request)
		switch d.Verdict {
		case Admit:
			s.Requests = insertRequest(s.Requests, e.Request)
		case Resolve:
			s.Removed = withFlag(s.Removed, e.Request.UUID)
			return s, []Effect{ResolveRequest{Request: e.Request}}
		case Amend:
			s.Removed = withFlag(s.Removed, e.Request.UUID)
			return s, []Effect{AmendRequest{Request: e.Request, Conversation: d.Conversation}}
		}
	case RequestAccepted:
		s = dropRequest(s, e.Request.UUID)
	case RequestDeclined:
		s = dropRequest(s, e.Request.UUID)
	case RequestsMarkedRemoved:
		s = dropRequest(s, e.UUID)
	case RequestSent:
		s.RequestErrors = without(s.RequestErrors, e.Pub)
	case RequestSendFailed:
		s.RequestErrors = withString(s.RequestErrors, e.Pub, e.Reason)
	case RequestErrorCleared:
		s.RequestErrors = without(s.RequestErrors, e.Pub)
	case GroupMembersRenewed:
		s.RequestErrors = without(s.RequestErrors, append(slices.Clone(e.Removed), e.Added...)...)
		for pub, reason := range e.Failures {
			s.RequestErrors = withString(s.RequestErrors, pub, reason)
		}
	}
	return s, nil
}

func dropRequest(s State, uuid string) State {
	if !s.Removed[uuid] {
		s.Removed = withFlag(s.Removed, uuid)
	}
	if i := slices.IndexFunc(s.Requests, func(r model.ContactRequest) bool { return r.UUID == uuid }); i >= 0 {
		s.Requests = slices.Delete(slices.Clone(s.Requests), i, i+1)
	}
	return s
}

func reduceMessages(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case MessageAppended:
		if !s.hasMessage(e.Message.UUID) {
			s.Messages = append(slices.Clip(s.Messages), e.Message)
		}
		if e.Message.SenderPub == s.Login.Pair.Pub {
			s.SendError = ""
		}
	case MessageExpired:
		if i := slices.IndexFunc(s.Messages, func(m model.Message) bool { return m.UUID == e.Message.UUID }); i >= 0 {
			s.Messages = slices.Delete(slices.Clone(s.Messages), i, i+1)
		}
	case MessageSendFailed:
		s.SendError = e.Reason
	}
	return s, nil
}
