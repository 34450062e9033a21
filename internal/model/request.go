package model

type (
	// ContactRequest is a handshake waiting to be accepted or declined.
	ContactRequest struct {
		UUID           string         `json:"uuid"`
		SenderPub      string         `json:"senderPub"`
		ConversationID string         `json:"conversationId"`
		NextPair       KeyPair        `json:"nextPair"`
		Content        RequestContent `json:"content"`
		Timestamp      int64          `json:"timestamp"`
	}
)

// RequestFromMessage extracts the handshake carried by m, if any.
func RequestFromMessage(m Message) (ContactRequest, bool) {
	if !m.Content.IsRequest() {
		return ContactRequest{}, false
	}
	return ContactRequest{
		UUID:           m.UUID,
		SenderPub:      m.SenderPub,
		ConversationID: m.ConversationID,
		NextPair:       m.NextPair,
		Content:        *m.Content.Request,
		Timestamp:      m.Timestamp,
	}, true
}

func (r ContactRequest) IsGroupInvite() bool {
	return r.Content.Kind == RequestGroupInvite
}

// Message rebuilds the handshake message the request arrived as.
func (r ContactRequest) Message() Message {
	content := r.Content
	c := Content{Kind: KindRequest, Request: &content}
	if r.IsGroupInvite() {
		next := r.NextPair
		c.NextPair = &next
	}
	return Message{
		UUID:           r.UUID,
		Content:        c,
		ConversationID: r.ConversationID,
		SenderPub:      r.SenderPub,
		NextPair:       r.NextPair,
		Timestamp:      r.Timestamp,
	}
}
