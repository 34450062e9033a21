package state

import "cyphr/internal/model"

// Event is everything the reducers react to. Failures arrive as events too;
// reducers never see errors.
type Event interface {
	isEvent()
}

type (
	ContactAppended struct {
		Contact model.Contact
	}

	ContactAppendFailed struct {
		Pub    string
		Reason string
	}

	// ContactDeleted identifies the contact by Pub, or by UUID when the pub is
	// no longer known.
	ContactDeleted struct {
		Pub  string
		UUID string
	}

	// ConversationInit starts a fresh conversation subscription.
	ConversationInit struct{}

	ConversationAppended struct {
		Conversation model.Conversation
	}

	// ConversationSelected selects a conversation. Timestamp is the latest
	// message time seen at selection; zero means the reducer works it out.
	ConversationSelected struct {
		UUID      string
		Timestamp int64
	}

	ConversationDeselected struct{}

	ConversationDeleted struct {
		UUID string
	}

	MessageAppended struct {
		Message model.Message
	}

	MessageExpired struct {
		Message model.Message
	}

	MessageSendFailed struct {
		Reason string
	}

	RequestAppended struct {
		Request model.ContactRequest
	}

	RequestAccepted struct {
		Request model.ContactRequest
	}

	RequestDeclined struct {
		Request model.ContactRequest
	}

	RequestsMarkedRemoved struct {
		UUID string
	}

	RequestSent struct {
		Pub string
	}

	RequestSendFailed struct {
		Pub    string
		Reason string
	}

	RequestErrorCleared struct {
		Pub string
	}

	// GroupMembersRenewed reports a membership change made by the admin.
	// Failures maps member pubs to the reason they could not be reached.
	GroupMembersRenewed struct {
		ConversationUUID string
		Removed          []string
		Added            []string
		GroupPair        model.KeyPair
		Failures         map[string]string
	}

	LoginSucceeded struct {
		Alias string
		Name  string
		Pair  model.KeyPair
	}

	LoginFailed struct {
		Reason string
	}

	LoginRenamed struct {
		Name string
	}

	LoggedOut struct{}
)

func (ContactAppended) isEvent()        {}
func (ContactAppendFailed) isEvent()    {}
func (ContactDeleted) isEvent()         {}
func (ConversationInit) isEvent()       {}
func (ConversationAppended) isEvent()   {}
func (ConversationSelected) isEvent()   {}
func (ConversationDeselected) isEvent() {}
func (ConversationDeleted) isEvent()    {}
func (MessageAppended) isEvent()        {}
func (MessageExpired) isEvent()         {}
func (MessageSendFailed) isEvent()      {}
func (RequestAppended) isEvent()        {}
func (RequestAccepted) isEvent()        {}
func (RequestDeclined) isEvent()        {}
func (RequestsMarkedRemoved) isEvent()  {}
func (RequestSent) isEvent()            {}
func (RequestSendFailed) isEvent()      {}
func (RequestErrorCleared) isEvent()    {}
func (GroupMembersRenewed) isEvent()    {}
func (LoginSucceeded) isEvent()         {}
func (LoginFailed) isEvent()            {}
func (LoginRenamed) isEvent()           {}
func (LoggedOut) isEvent()              {}
