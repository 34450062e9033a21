package state

import (
	"slices"

	"cyphr/internal/model"
)

type Verdict int

const (
	// Admit queues the request for the user.
	Admit Verdict = iota
	// Suppress drops the request for now; it comes back next session.
	Suppress
	// Resolve drops the request and marks it handled.
	Resolve
	// Amend resolves the request and points the existing conversation at
	// the offered slot.
	Amend
)

// Decision is the outcome of admitting a request.
type Decision struct {
	Verdict      Verdict
	Reason       string
	Conversation model.Conversation
}

// AdmitRequest decides what to do with an incoming handshake given what the
// user already has.
func AdmitRequest(s State, req model.ContactRequest) Decision {
	if s.Removed[req.UUID] {
		return Decision{Verdict: Suppress, Reason: "already resolved"}
	}
	for _, r := range s.Requests {
		if r.UUID == req.UUID {
			return Decision{Verdict: Suppress, Reason: "already queued"}
		}
	}

	if req.IsGroupInvite() {
		return admitGroupInvite(s, req)
	}

	for _, r := range s.Requests {
		if !r.IsGroupInvite() && r.SenderPub == req.SenderPub {
			return Decision{Verdict: Resolve, Reason: "duplicate sender"}
		}
	}
	for _, c := range s.Conversations {
		if !c.IsGroup() && c.ConversationID == req.SenderPub {
			return Decision{Verdict: Amend, Reason: "conversation exists", Conversation: c}
		}
	}
	return Decision{Verdict: Admit}
}

func admitGroupInvite(s State, req model.ContactRequest) Decision {
	for _, c := range s.Conversations {
		if c.ConversationID == req.ConversationID && c.RootPair == req.NextPair {
			return Decision{Verdict: Resolve, Reason: "already joined"}
		}
	}
	for _, r := range s.Requests {
		if r.ConversationID == req.ConversationID {
			return Decision{Verdict: Suppress, Reason: "group already queued"}
		}
	}
	if s.Policy.RequireKnownMembers {
		known := slices.ContainsFunc(req.Content.MemberPubs, func(pub string) bool {
			_, ok := s.Contact(pub)
			return ok
		})
		if !known {
			return Decision{Verdict: Suppress, Reason: "no known members"}
		}
	}
	return Decision{Verdict: Admit}
}

// insertRequest keeps requests ordered newest first.
func insertRequest(requests []model.ContactRequest, req model.ContactRequest) []model.ContactRequest {
	i := slices.IndexFunc(requests, func(r model.ContactRequest) bool {
		return r.Timestamp < req.Timestamp
	})
	if i < 0 {
		i = len(requests)
	}
	return slices.Insert(slices.Clip(requests), i, req)
}
