package client

import (
	"context"
	"slices"
	"sync"

	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/service/contact"
	"cyphr/internal/service/conversation"
	"cyphr/internal/service/request"
	"cyphr/internal/state"

	"go.uber.org/zap"
)

type (
	// session is everything bound to one authenticated pair. Closing it
	// tears down every subscription it started, walkers included.
	session struct {
		pub    string
		ctx    context.Context
		cancel context.CancelFunc

		engine        *chain.Engine
		ids           *identity.Table
		contacts      *contact.Service
		conversations *conversation.Service
		requests      *request.Service
		sweeper       *Sweeper

		mu      sync.Mutex
		model   model.Session
		closed  bool
		unsubs  []graph.Unsubscribe
		walkers map[string]*walker
		// sent is the last message sent per conversation, until the walker
		// brings it back.
		sent map[string]model.Message
		// expired is the newest message each frontier was moved past.
		expired map[string]int64
	}

	// walker is the chain reader of one conversation.
	walker struct {
		w     *chain.Walker
		pairs []model.KeyPair
	}
)

func (s *session) session() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *session) setSession(m model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}

func (s *session) remember(uuid string, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.sent[uuid]; !ok || m.Timestamp >= last.Timestamp {
		s.sent[uuid] = m
	}
}

func (s *session) lastSent(uuid string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sent[uuid]
	return m, ok
}

// expiresPast reports whether expiring uuid up to timestamp would move its
// frontier further than it already moved.
func (s *session) expiresPast(uuid string, timestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timestamp > s.expired[uuid]
}

// expiredUpTo records that the frontier of uuid moved past timestamp.
func (s *session) expiredUpTo(uuid string, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timestamp > s.expired[uuid] {
		s.expired[uuid] = timestamp
	}
}

func (s *session) track(u graph.Unsubscribe) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		u()
		return
	}
	s.unsubs = append(s.unsubs, u)
	s.mu.Unlock()
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	walkers := s.walkers
	s.unsubs = nil
	s.walkers = nil
	s.mu.Unlock()

	s.cancel()
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	for _, w := range walkers {
		w.w.Close()
	}
	graph.Chain(unsubs...)()
	s.ids.Reset()
}

// subscriptions counts the slots walked plus the other live subscriptions.
func (s *session) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.unsubs)
	for _, w := range s.walkers {
		n += w.w.Depth()
	}
	return n
}

// begin makes sess the current session and subscribes it.
func (c *Client) begin(m model.Session) error {
	ids := identity.NewTable()
	engine := chain.NewEngine(c.store, c.crypto, m.Pair, c.dir)
	contacts, err := contact.NewService(c.store, c.crypto, m, c.dir, ids)
	if err != nil {
		return err
	}
	convs, err := conversation.NewService(c.store, c.crypto, engine, ids)
	if err != nil {
		return err
	}

	base := c.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	sess := &session{
		pub:           m.Pair.Pub,
		model:         m,
		ctx:           ctx,
		cancel:        cancel,
		engine:        engine,
		ids:           ids,
		contacts:      contacts,
		conversations: convs,
		requests:      request.NewService(c.store, engine, convs),
		walkers:       make(map[string]*walker),
		sent:          make(map[string]model.Message),
		expired:       make(map[string]int64),
	}

	c.smu.Lock()
	old := c.sess
	c.sess = sess
	c.smu.Unlock()
	if old != nil {
		old.close()
		c.dispatch(state.LoggedOut{})
	}

	c.dispatch(state.LoginSucceeded{Alias: m.Alias, Name: m.Name, Pair: m.Pair})
	c.dispatch(state.ConversationInit{})
	if err := c.subscribe(sess); err != nil {
		c.end()
		return err
	}

	if c.opts.ExpirySweep > 0 {
		sess.sweeper = NewSweeper(c, c.opts.ExpirySweep)
		go sess.sweeper.Start()
	}
	c.log.Info("session started", zap.String("pub", m.Pair.Pub))
	return nil
}

// end closes the current session, if any.
func (c *Client) end() {
	c.smu.Lock()
	sess := c.sess
	c.sess = nil
	c.smu.Unlock()
	if sess == nil {
		return
	}
	sess.close()
	c.dispatch(state.LoggedOut{})
}

// push forwards e unless sess has ended in the meantime.
func (c *Client) push(sess *session, e state.Event) {
	if sess.ctx.Err() != nil {
		return
	}
	c.dispatch(e)
}

// subscribe starts the session's streams. Resolved requests and
// conversations are subscribed before incoming requests, since admitting a
// request depends on both.
func (c *Client) subscribe(sess *session) error {
	unsub, err := sess.contacts.Subscribe(sess.ctx, contact.Handler{
		Appended: func(ct model.Contact) { c.push(sess, state.ContactAppended{Contact: ct}) },
		Deleted:  func(ct model.Contact) { c.push(sess, state.ContactDeleted{Pub: ct.Pub, UUID: ct.UUID}) },
	})
	if err != nil {
		return err
	}
	sess.track(unsub)

	unsub, err = sess.conversations.Subscribe(sess.ctx, conversation.Handler{
		Appended: func(conv model.Conversation) { c.push(sess, state.ConversationAppended{Conversation: conv}) },
		Deleted:  func(uuid string) { c.push(sess, state.ConversationDeleted{UUID: uuid}) },
	})
	if err != nil {
		return err
	}
	sess.track(unsub)

	unsub, err = sess.requests.SubscribeRemoved(sess.ctx, func(uuid string) {
		c.push(sess, state.RequestsMarkedRemoved{UUID: uuid})
	})
	if err != nil {
		return err
	}
	sess.track(unsub)

	unsub, err = sess.requests.SubscribeIncoming(sess.ctx, func(req model.ContactRequest) {
		c.push(sess, state.RequestAppended{Request: req})
	})
	if err != nil {
		return err
	}
	sess.track(unsub)
	return nil
}

// reconcile keeps one walker per conversation in st: new conversations get a
// walker from their frontier, renewed groups get their new unseal pairs, and
// walkers of deleted conversations are closed.
func (c *Client) reconcile(sess *session, st state.State) {
	if !st.Login.LoggedIn || st.Login.Pair.Pub != sess.pub {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}

	live := make(map[string]bool, len(st.Conversations))
	for _, conv := range st.Conversations {
		live[conv.UUID] = true
		w := c.walkerLocked(sess, conv)
		if err := w.w.Walk(conv.NextPair); err != nil {
			c.log.Warn("walk conversation failed", zap.String("uuid", conv.UUID), zap.Error(err))
		}
	}

	for uuid, w := range sess.walkers {
		if !live[uuid] {
			w.w.Close()
			delete(sess.walkers, uuid)
		}
	}
}

// walkerLocked returns the walker of conv, created on first use, with the
// unseal pairs of conv's current record. sess.mu must be held.
func (c *Client) walkerLocked(sess *session, conv model.Conversation) *walker {
	pairs := sess.conversations.UnsealPairs(conv)

	w, ok := sess.walkers[conv.UUID]
	if !ok {
		w = &walker{w: sess.engine.NewWalker(sess.ctx, func(m model.Message) {
			c.push(sess, state.MessageAppended{Message: m})
		}, pairs...)}
		sess.walkers[conv.UUID] = w
	} else if !slices.Equal(w.pairs, pairs) {
		w.w.SetUnsealPairs(pairs...)
	}
	w.pairs = pairs
	return w
}
