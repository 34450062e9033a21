package graph

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Store. It backs tests and the relay's dev mode.
type Memory struct {
	mu     sync.Mutex
	nodes  map[string]Node
	hub    *Hub
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]Node),
		hub:   NewHub(),
	}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	n := m.nodes[key]
	m.nodes[key] = Node{Key: key, Value: clone(value), Version: n.Version + 1}
	m.mu.Unlock()

	m.hub.Publish(key, clone(value))
	return nil
}

func (m *Memory) CompareAndPut(ctx context.Context, key string, value []byte, version uint64) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	n := m.nodes[key]
	if n.Version != version {
		m.mu.Unlock()
		return 0, ErrConflict
	}
	next := Node{Key: key, Value: clone(value), Version: version + 1}
	m.nodes[key] = next
	m.mu.Unlock()

	m.hub.Publish(key, clone(value))
	return next.Version, nil
}

func (m *Memory) Get(ctx context.Context, key string) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Node{}, ErrClosed
	}
	n, ok := m.nodes[key]
	if !ok {
		return Node{Key: key}, ErrNotFound
	}
	n.Value = clone(n.Value)
	if n.Value == nil {
		return n, ErrNotFound
	}
	return n, nil
}

func (m *Memory) On(ctx context.Context, prefix string, fn Handler) (Unsubscribe, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	return m.hub.Subscribe(prefix, fn, func() ([]Node, error) {
		return m.snapshot(prefix), nil
	})
}

// Redeliver replays every stored node to every matching subscriber, the way a
// store does after a reconnect.
func (m *Memory) Redeliver() {
	for _, n := range m.snapshot("") {
		m.hub.Publish(n.Key, n.Value)
	}
}

// Subscriptions is the number of live subscriptions.
func (m *Memory) Subscriptions() int {
	return m.hub.Count()
}

// Keys lists stored keys under prefix, tombstones included.
func (m *Memory) Keys(prefix string) []string {
	var keys []string
	for _, n := range m.snapshot(prefix) {
		keys = append(keys, n.Key)
	}
	return keys
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}

func (m *Memory) snapshot(prefix string) []Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Node, 0)
	for k, n := range m.nodes {
		if strings.HasPrefix(k, prefix) {
			n.Value = clone(n.Value)
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
