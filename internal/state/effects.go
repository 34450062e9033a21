package state

import "cyphr/internal/model"

// Effect is work a reducer asks the client to carry out against the store.
type Effect interface {
	isEffect()
}

type (
	// ResolveRequest marks a handshake as handled without prompting.
	ResolveRequest struct {
		Request model.ContactRequest
	}

	// AmendRequest points an existing conversation at the slot a repeated
	// handshake offered.
	AmendRequest struct {
		Request      model.ContactRequest
		Conversation model.Conversation
	}

	UpdateLastSeen struct {
		ConversationUUID string
		Timestamp        int64
	}

	// RenewGroupPair installs a group pair announced by the admin.
	RenewGroupPair struct {
		ConversationUUID string
		Pair             model.KeyPair
		Timestamp        int64
	}

	// RefreshGroup rereads the group record into the conversation.
	RefreshGroup struct {
		ConversationUUID string
	}

	// Notify announces a new message outside the selected conversation.
	Notify struct {
		Conversation model.Conversation
		Message      model.Message
	}
)

func (ResolveRequest) isEffect() {}
func (AmendRequest) isEffect()   {}
func (UpdateLastSeen) isEffect() {}
func (RenewGroupPair) isEffect() {}
func (RefreshGroup) isEffect()   {}
func (Notify) isEffect()         {}
