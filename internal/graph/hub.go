package graph

import (
	"strings"
	"sync"
	"sync/atomic"
)

type (
	subscription struct {
		id     uint64
		prefix string
		fn     Handler
		active atomic.Bool
	}

	// Hub fans writes out to prefix subscribers. Handlers run on the
	// publishing goroutine without any hub lock held. Store implementations
	// outside this package use it for their live side.
	Hub struct {
		mu   sync.Mutex
		next uint64
		subs map[uint64]*subscription
	}
)

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

// Subscribe registers fn under prefix, then hands it every node returned by
// replay. The subscription is live before replay runs, so a concurrent write
// is seen at least once.
func (h *Hub) Subscribe(prefix string, fn Handler, replay func() ([]Node, error)) (Unsubscribe, error) {
	s := h.add(prefix, fn)

	if replay != nil {
		nodes, err := replay()
		if err != nil {
			h.remove(s)
			return nil, err
		}
		for _, n := range nodes {
			s.deliver(n.Key, n.Value)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(s) })
	}, nil
}

func (h *Hub) Publish(key string, value []byte) {
	for _, s := range h.matching(key) {
		s.deliver(key, value)
	}
}

// Count is the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		s.active.Store(false)
		delete(h.subs, id)
	}
}

func (h *Hub) add(prefix string, fn Handler) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	s := &subscription{id: h.next, prefix: prefix, fn: fn}
	s.active.Store(true)
	h.subs[s.id] = s
	return s
}

func (h *Hub) remove(s *subscription) {
	s.active.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s.id)
}

func (h *Hub) matching(key string) []*subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*subscription
	for _, s := range h.subs {
		if strings.HasPrefix(key, s.prefix) {
			out = append(out, s)
		}
	}
	return out
}

func (s *subscription) deliver(key string, value []byte) {
	if s.active.Load() {
		s.fn(key, value)
	}
}
