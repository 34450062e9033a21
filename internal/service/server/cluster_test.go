package server

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cyphr/internal/graph"
	"cyphr/internal/repository/node"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu   sync.Mutex
	docs map[string]node.Document
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]node.Document)}
}

func (r *fakeRepo) Get(ctx context.Context, key string) (*node.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *fakeRepo) Put(ctx context.Context, key string, value []byte) (*node.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[key]
	d = node.Document{Key: key, Value: value, Tombstone: value == nil, Version: d.Version + 1}
	r.docs[key] = d
	return &d, nil
}

func (r *fakeRepo) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) (*node.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[key]
	if d.Version != version {
		return nil, node.ErrConflict
	}
	d = node.Document{Key: key, Value: value, Tombstone: value == nil, Version: version + 1}
	r.docs[key] = d
	return &d, nil
}

func (r *fakeRepo) FindPrefix(ctx context.Context, prefix string) ([]*node.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*node.Document
	for k, d := range r.docs {
		if strings.HasPrefix(k, prefix) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// fakeBus delivers every published payload to every subscriber, like a
// redis channel shared by several relays.
type fakeBus struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subs = append(b.subs, ch)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func TestClusterFansOutAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo()
	bus := &fakeBus{}
	east := NewCluster(repo, bus)
	west := NewCluster(repo, bus)
	go east.Listen(ctx)
	go west.Listen(ctx)
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 2
	}, time.Second, 5*time.Millisecond)

	var (
		mu   sync.Mutex
		seen []string
	)
	_, err := west.On(ctx, "messages/", func(key string, value []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, key)
	})
	require.NoError(t, err)

	require.NoError(t, east.Put(ctx, "messages/a-#1", []byte("x")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	n, err := west.Get(ctx, "messages/a-#1")
	require.NoError(t, err)
	require.Equal(t, "x", string(n.Value))
}

func TestClusterConflictAndTombstone(t *testing.T) {
	ctx := context.Background()
	c := NewCluster(newFakeRepo(), &fakeBus{})

	_, err := c.CompareAndPut(ctx, "k", []byte("a"), 0)
	require.NoError(t, err)
	_, err = c.CompareAndPut(ctx, "k", []byte("b"), 0)
	require.ErrorIs(t, err, graph.ErrConflict)

	require.NoError(t, c.Put(ctx, "k", nil))
	n, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, graph.ErrNotFound)
	require.Equal(t, uint64(2), n.Version)
}
