// Package client runs one user's chat session: store subscriptions and user
// actions become events, a single goroutine reduces them into the state, and
// the effects the reducers ask for are carried out in order on a second one.
package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/service/auth"
	"cyphr/internal/service/conversation"
	"cyphr/internal/service/profile"
	"cyphr/internal/state"
	"cyphr/internal/utils/log"
	"cyphr/internal/utils/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNoConversation = errors.New("no such conversation")
)

type (
	Options struct {
		Policy state.Policy
		// ExpiryAge defaults to conversation.DefaultExpiry.
		ExpiryAge time.Duration
		// ExpirySweep is the sweep interval; zero disables the sweeper.
		ExpirySweep time.Duration
	}

	Client struct {
		store  graph.Store
		crypto provider.Provider
		dir    *profile.Directory
		auth   *auth.Service
		opts   Options
		log    *zap.Logger

		events  *queue.Unbounded[state.Event]
		effects *queue.Unbounded[state.Effect]

		mu       sync.RWMutex
		state    state.State
		watchers map[int]func(state.State)
		watchID  int
		notify   func(state.Notify)

		smu  sync.Mutex
		sess *session

		ctx    context.Context
		cancel context.CancelFunc
		group  *errgroup.Group
	}
)

func New(store graph.Store, crypto provider.Provider, keeper auth.Keeper, opts Options) *Client {
	if opts.ExpiryAge <= 0 {
		opts.ExpiryAge = conversation.DefaultExpiry
	}
	dir := profile.NewDirectory(store, crypto)
	return &Client{
		store:    store,
		crypto:   crypto,
		dir:      dir,
		auth:     auth.NewService(store, crypto, dir, keeper),
		opts:     opts,
		log:      log.Named("client"),
		events:   queue.New[state.Event](),
		effects:  queue.New[state.Effect](),
		state:    state.New(opts.Policy),
		watchers: make(map[int]func(state.State)),
	}
}

// Start runs the event and effect loops until Close.
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group, ctx = errgroup.WithContext(c.ctx)
	c.group.Go(func() error { return c.loop(ctx) })
	c.group.Go(func() error { return c.effectLoop(ctx) })
}

// Close ends the session, if any, and stops both loops.
func (c *Client) Close() error {
	c.end()
	c.events.Close()
	c.effects.Close()
	if c.cancel != nil {
		c.cancel()
	}
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}

// Snapshot is the current state. It must not be modified.
func (c *Client) Snapshot() state.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Watch calls fn after every state change, from the event loop. fn must not
// block.
func (c *Client) Watch(fn func(state.State)) func() {
	c.mu.Lock()
	id := c.watchID
	c.watchID++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// OnNotify installs the hook for new messages outside the open conversation.
func (c *Client) OnNotify(fn func(state.Notify)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

func (c *Client) dispatch(e state.Event) {
	if !c.events.Push(e) {
		c.log.Debug("event after close", zap.String("event", fmt.Sprintf("%T", e)))
	}
}

func (c *Client) loop(ctx context.Context) error {
	for {
		e, ok := c.events.Pop(ctx)
		if !ok {
			return nil
		}
		c.apply(e)
	}
}

func (c *Client) apply(e state.Event) {
	c.mu.Lock()
	next, effects := state.Reduce(c.state, e)
	c.state = next
	watchers := slices.Collect(maps.Values(c.watchers))
	c.mu.Unlock()

	if sess := c.current(); sess != nil {
		c.reconcile(sess, next)
	}
	for _, eff := range effects {
		c.effects.Push(eff)
	}
	for _, fn := range watchers {
		fn(next)
	}
}

func (c *Client) effectLoop(ctx context.Context) error {
	for {
		eff, ok := c.effects.Pop(ctx)
		if !ok {
			return nil
		}
		if err := c.execute(ctx, eff); err != nil {
			c.log.Warn("effect failed", zap.String("effect", fmt.Sprintf("%T", eff)), zap.Error(err))
		}
	}
}

func (c *Client) current() *session {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.sess
}

func (c *Client) requireSession() (*session, error) {
	sess := c.current()
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	return sess, nil
}

// frontier is the slot the next message of conv goes to, judged from the
// messages seen so far.
func (c *Client) frontier(sess *session, conv model.Conversation) model.KeyPair {
	st := c.Snapshot()
	if current, ok := st.Conversation(conv.UUID); ok {
		conv = current
	}
	sorted := state.ConversationMessages(sess.pub, conv.ConversationID, st.Messages)
	if m, ok := sess.lastSent(conv.UUID); ok && (len(sorted) == 0 || m.Timestamp >= sorted[len(sorted)-1].Timestamp) {
		sorted = append(sorted, m)
	}
	return chain.NextPair(conv, sorted)
}
