package model

type (
	ContentKind string

	// Content is a tagged union; Kind selects which fields are meaningful.
	Content struct {
		Kind ContentKind `json:"kind"`

		// Text and Rich.
		Text   string   `json:"text,omitempty"`
		Images []string `json:"images,omitempty"`
		Audio  string   `json:"audio,omitempty"`

		// Request.
		Request *RequestContent `json:"request,omitempty"`

		// NextPair, when set, becomes the message's next slot instead of a
		// freshly generated one (group invites, amend requests).
		NextPair *KeyPair `json:"nextPair,omitempty"`

		// RenewGroup.
		RenewPair *KeyPair `json:"renewPair,omitempty"`

		// UpdateGroup.
		Name string `json:"name,omitempty"`

		// Sealed.
		Sealed *Sealed `json:"sealed,omitempty"`
	}

	// Sealed is a nested ciphertext only some readers of the chain can open.
	Sealed struct {
		Ciphertext []byte `json:"ciphertext"`
		Origin     string `json:"origin"`
	}

	RequestKind string

	RequestContent struct {
		Kind       RequestKind `json:"kind"`
		AdminPub   string      `json:"adminPub,omitempty"`
		MemberPubs []string    `json:"memberPubs,omitempty"`
		GroupPair  *KeyPair    `json:"groupPair,omitempty"`
		Text       string      `json:"text,omitempty"`
	}

	// Message is immutable once sent. EncryptPub is filled in by the reader
	// with the slot the message was found under and is never transmitted.
	Message struct {
		UUID           string  `json:"uuid"`
		Content        Content `json:"content"`
		ConversationID string  `json:"conversationId"`
		SenderPub      string  `json:"senderPub"`
		NextPair       KeyPair `json:"nextPair"`
		Timestamp      int64   `json:"timestamp"`

		EncryptPub string `json:"-"`
	}

	// Envelope is what the shared namespace stores for a message.
	Envelope struct {
		Encrypted []byte `json:"encrypted"`
		Origin    string `json:"origin"`
	}
)

const (
	KindText         ContentKind = "text"
	KindRich         ContentKind = "rich"
	KindRequest      ContentKind = "request"
	KindAmendRequest ContentKind = "amendRequest"
	KindRenewGroup   ContentKind = "renewGroup"
	KindUpdateGroup  ContentKind = "updateGroup"
	KindSealed       ContentKind = "sealed"
)

const (
	RequestDirect      RequestKind = "direct"
	RequestGroupInvite RequestKind = "group-invite"
)

func TextContent(text string) Content {
	return Content{Kind: KindText, Text: text}
}

func RichContent(text string, images []string, audio string) Content {
	return Content{Kind: KindRich, Text: text, Images: images, Audio: audio}
}

func DirectRequest(text string) Content {
	return Content{Kind: KindRequest, Request: &RequestContent{Kind: RequestDirect, Text: text}}
}

// GroupInvite carries the shared chain slot and group pair to a new member.
func GroupInvite(adminPub string, memberPubs []string, groupPair, nextPair KeyPair, text string) Content {
	return Content{
		Kind: KindRequest,
		Request: &RequestContent{
			Kind:       RequestGroupInvite,
			AdminPub:   adminPub,
			MemberPubs: memberPubs,
			GroupPair:  &groupPair,
			Text:       text,
		},
		NextPair: &nextPair,
	}
}

func AmendRequest(nextPair KeyPair) Content {
	return Content{Kind: KindAmendRequest, NextPair: &nextPair}
}

func RenewGroup(pair KeyPair) Content {
	return Content{Kind: KindRenewGroup, RenewPair: &pair}
}

func UpdateGroup(name string) Content {
	return Content{Kind: KindUpdateGroup, Name: name}
}

// Visible reports whether the content is shown in a conversation.
func (c Content) Visible() bool {
	return c.Kind == KindText || c.Kind == KindRich
}

func (c Content) IsRequest() bool {
	return c.Kind == KindRequest && c.Request != nil
}
