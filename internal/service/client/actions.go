package client

import (
	"context"
	"fmt"

	"cyphr/internal/model"
	"cyphr/internal/service/auth"
	"cyphr/internal/service/conversation"
	"cyphr/internal/state"
)

// Every action reports its failure twice: as the returned error and as a
// failure event, so the state always reflects what happened.

func (c *Client) loginFailed(err error) error {
	c.dispatch(state.LoginFailed{Reason: err.Error()})
	return err
}

// Register creates the account alias, or logs into it when it exists.
func (c *Client) Register(ctx context.Context, alias, password, confirmation string) error {
	if err := auth.ValidatePassword(password); err != nil {
		return c.loginFailed(err)
	}
	if err := auth.CheckConfirmation(password, confirmation); err != nil {
		return c.loginFailed(err)
	}
	s, err := c.auth.Create(ctx, alias, password)
	if err != nil {
		return c.loginFailed(err)
	}
	return c.begin(s)
}

func (c *Client) Login(ctx context.Context, alias, password string) error {
	s, err := c.auth.Authorise(ctx, alias, password)
	if err != nil {
		return c.loginFailed(err)
	}
	return c.begin(s)
}

func (c *Client) LoginAnonymous(ctx context.Context) error {
	s, err := c.auth.CreateAnonymous(ctx)
	if err != nil {
		return c.loginFailed(err)
	}
	return c.begin(s)
}

// LoginKeyPair logs in with a pair exported from another device.
func (c *Client) LoginKeyPair(ctx context.Context, pair model.KeyPair) error {
	s, err := c.auth.AuthoriseKeyPair(ctx, pair)
	if err != nil {
		return c.loginFailed(err)
	}
	return c.begin(s)
}

// Recall resumes the session kept on this device. A missing session is not a
// failed login and raises no event.
func (c *Client) Recall(ctx context.Context) error {
	s, err := c.auth.Recall(ctx)
	if err != nil {
		return err
	}
	return c.begin(s)
}

func (c *Client) HasUser(ctx context.Context, alias string) (bool, error) {
	return c.auth.HasUser(ctx, alias)
}

func (c *Client) Rename(ctx context.Context, name string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	s, err := c.auth.Rename(ctx, sess.session(), name)
	if err != nil {
		return err
	}
	sess.setSession(s)
	c.dispatch(state.LoginRenamed{Name: name})
	return nil
}

// Logout ends the session and forgets it on this device.
func (c *Client) Logout() error {
	c.end()
	return c.auth.Leave()
}

// Session is the logged in user.
func (c *Client) Session() (model.Session, bool) {
	sess := c.current()
	if sess == nil {
		return model.Session{}, false
	}
	return sess.session(), true
}

func (c *Client) AddContact(ctx context.Context, pub string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	if _, err := sess.contacts.Set(ctx, pub); err != nil {
		c.dispatch(state.ContactAppendFailed{Pub: pub, Reason: err.Error()})
		return err
	}
	return nil
}

func (c *Client) RemoveContact(ctx context.Context, pub string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	ct, ok := c.Snapshot().Contact(pub)
	if !ok {
		return fmt.Errorf("remove contact %s: not a contact", pub)
	}
	return sess.contacts.Remove(ctx, ct)
}

// SendRequest starts a conversation with pub.
func (c *Client) SendRequest(ctx context.Context, pub, text string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	c.dispatch(state.RequestErrorCleared{Pub: pub})
	if _, err := sess.conversations.SendRequest(ctx, pub, text); err != nil {
		c.dispatch(state.RequestSendFailed{Pub: pub, Reason: err.Error()})
		return err
	}
	c.dispatch(state.RequestSent{Pub: pub})
	return nil
}

// SendGroupRequests starts a group with pubs. Members that could not be
// invited are reported per member; the group exists once anyone was invited.
func (c *Client) SendGroupRequests(ctx context.Context, pubs []string, text string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	for _, pub := range pubs {
		c.dispatch(state.RequestErrorCleared{Pub: pub})
	}
	res, err := sess.conversations.SendGroupRequests(ctx, pubs, text)
	for pub, ferr := range res.Failures {
		c.dispatch(state.RequestSendFailed{Pub: pub, Reason: ferr.Error()})
	}
	for _, pub := range res.Sent {
		c.dispatch(state.RequestSent{Pub: pub})
	}
	return err
}

func (c *Client) ClearRequestError(pub string) {
	c.dispatch(state.RequestErrorCleared{Pub: pub})
}

// Accept opens the conversation req offers and selects it.
func (c *Client) Accept(ctx context.Context, req model.ContactRequest) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := sess.requests.Accept(ctx, req)
	if err != nil {
		return err
	}
	c.dispatch(state.RequestAccepted{Request: req})
	c.dispatch(state.ConversationAppended{Conversation: conv})
	c.dispatch(state.ConversationSelected{UUID: conv.UUID})
	return nil
}

func (c *Client) Decline(ctx context.Context, req model.ContactRequest) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	if err := sess.requests.Decline(ctx, req); err != nil {
		return err
	}
	c.dispatch(state.RequestDeclined{Request: req})
	return nil
}

func (c *Client) Select(uuid string) {
	c.dispatch(state.ConversationSelected{UUID: uuid})
}

func (c *Client) Deselect() {
	c.dispatch(state.ConversationDeselected{})
}

func (c *Client) conversation(uuid string) (model.Conversation, error) {
	conv, ok := c.Snapshot().Conversation(uuid)
	if !ok {
		return model.Conversation{}, ErrNoConversation
	}
	return conv, nil
}

// Send writes text into the conversation uuid.
func (c *Client) Send(ctx context.Context, uuid, text string) error {
	return c.SendContent(ctx, uuid, model.TextContent(text))
}

func (c *Client) SendContent(ctx context.Context, uuid string, content model.Content) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := c.conversation(uuid)
	if err != nil {
		c.dispatch(state.MessageSendFailed{Reason: err.Error()})
		return err
	}
	m, err := sess.engine.SendOnSlot(ctx, c.frontier(sess, conv), conv.ConversationID, content)
	if err != nil {
		c.dispatch(state.MessageSendFailed{Reason: err.Error()})
		return err
	}
	sess.remember(conv.UUID, m)
	return nil
}

// RemoveConversation deletes the local record of a conversation.
func (c *Client) RemoveConversation(ctx context.Context, uuid string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := c.conversation(uuid)
	if err != nil {
		return err
	}
	return sess.conversations.Remove(ctx, conv)
}

// UpdateGroupMembers sets the members of a group the user administers.
func (c *Client) UpdateGroupMembers(ctx context.Context, uuid string, memberPubs []string, text string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := c.conversation(uuid)
	if err != nil {
		return err
	}
	rot, err := sess.conversations.UpdateGroupMembers(ctx, conversation.MemberChange{
		Conversation: conv,
		Frontier:     c.frontier(sess, conv),
		MemberPubs:   memberPubs,
		Text:         text,
	})
	if !rot.Sent.NextPair.IsZero() {
		sess.remember(conv.UUID, rot.Sent)
	}
	if err != nil {
		return err
	}

	failures := make(map[string]string, len(rot.Failures))
	for pub, ferr := range rot.Failures {
		failures[pub] = ferr.Error()
	}
	c.dispatch(state.GroupMembersRenewed{
		ConversationUUID: uuid,
		Removed:          rot.Removed,
		Added:            rot.Added,
		GroupPair:        rot.GroupPair,
		Failures:         failures,
	})
	if len(failures) > 0 {
		return fmt.Errorf("%d members could not be reached", len(failures))
	}
	return nil
}

func (c *Client) UpdateGroupName(ctx context.Context, uuid, name string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := c.conversation(uuid)
	if err != nil {
		return err
	}
	m, err := sess.conversations.UpdateGroupName(ctx, conv, c.frontier(sess, conv), name)
	if err != nil {
		return err
	}
	sess.remember(conv.UUID, m)
	return nil
}

// LoadExpired recovers the history of uuid hidden by expiry by replaying the
// conversation's chain from its first slot. Slots the conversation already
// follows are not subscribed twice.
func (c *Client) LoadExpired(ctx context.Context, uuid string) error {
	sess, err := c.requireSession()
	if err != nil {
		return err
	}
	conv, err := c.conversation(uuid)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrNotLoggedIn
	}
	return c.walkerLocked(sess, conv).w.Replay(conv.RootPair)
}

// Subscriptions is the number of live store subscriptions the session holds.
func (c *Client) Subscriptions() int {
	sess := c.current()
	if sess == nil {
		return 0
	}
	return sess.subscriptions()
}
