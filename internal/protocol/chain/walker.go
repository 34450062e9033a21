package chain

import (
	"context"
	"errors"
	"sync"

	"cyphr/internal/graph"
	"cyphr/internal/model"

	"go.uber.org/zap"
)

// Walker follows a chain forward from one or more slots and keeps every slot
// it reached subscribed until Close. Each slot is subscribed at most once,
// however often the store redelivers the message pointing at it, and walkers
// of the same engine share the store subscription of a common slot.
type Walker struct {
	engine *Engine
	fn     func(model.Message)
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	seen   map[string]struct{}
	unsubs []graph.Unsubscribe
	unseal []model.KeyPair
	closed bool
}

// NewWalker returns a walker delivering every message it finds to fn. unseal
// lists the pairs tried on sealed contents.
func (e *Engine) NewWalker(ctx context.Context, fn func(model.Message), unseal ...model.KeyPair) *Walker {
	ctx, cancel := context.WithCancel(ctx)
	return &Walker{
		engine: e,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		unseal: unseal,
	}
}

// SetUnsealPairs replaces the pairs tried on sealed contents from now on.
func (w *Walker) SetUnsealPairs(pairs ...model.KeyPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unseal = pairs
}

func (w *Walker) unsealPairs() []model.KeyPair {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unseal
}

// Walk subscribes to slot and, recursively, to the next slot of every message
// found there.
func (w *Walker) Walk(slot model.KeyPair) error {
	if slot.IsZero() {
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return graph.ErrClosed
	}
	if _, ok := w.seen[slot.Pub]; ok {
		w.mu.Unlock()
		return nil
	}
	w.seen[slot.Pub] = struct{}{}
	w.mu.Unlock()

	unsub, err := w.engine.watchSlot(w.ctx, slot, w.found)
	if err != nil {
		w.mu.Lock()
		delete(w.seen, slot.Pub)
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		unsub()
		return graph.ErrClosed
	}
	w.unsubs = append(w.unsubs, unsub)
	w.mu.Unlock()
	return nil
}

func (w *Walker) found(m model.Message) {
	if !w.engine.Unseal(&m, w.unsealPairs()...) {
		// sealed for someone else: not part of this reader's chain.
		return
	}
	w.fn(m)

	if err := w.Walk(m.NextPair); err != nil && !errors.Is(err, graph.ErrClosed) {
		w.engine.log.Warn("follow chain failed", zap.String("slot", m.NextPair.Pub), zap.Error(err))
	}
}

// Replay walks again from slot, handing fn every message found on the way,
// including those of slots already subscribed. Only slots not yet reached are
// subscribed.
func (w *Walker) Replay(slot model.KeyPair) error {
	visited := make(map[string]struct{})

	var replay func(model.KeyPair) error
	replay = func(slot model.KeyPair) error {
		if slot.IsZero() {
			return nil
		}
		if _, ok := visited[slot.Pub]; ok {
			return nil
		}
		visited[slot.Pub] = struct{}{}

		if err := w.Walk(slot); err != nil {
			return err
		}
		for _, m := range w.engine.backlog(slot.Pub) {
			if !w.engine.Unseal(&m, w.unsealPairs()...) {
				continue
			}
			w.fn(m)
			if err := replay(m.NextPair); err != nil {
				return err
			}
		}
		return nil
	}
	return replay(slot)
}

// Depth is the number of slots subscribed so far.
func (w *Walker) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.unsubs)
}

// Close tears down every subscription the walker created.
func (w *Walker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unsubs := w.unsubs
	w.unsubs = nil
	w.mu.Unlock()

	w.cancel()
	for _, u := range unsubs {
		u()
	}
}

// ReadChainRecursive walks the chain starting at root until the returned
// handle is called. Repeated reads of the same chain reuse the slots already
// subscribed.
func (e *Engine) ReadChainRecursive(ctx context.Context, root model.KeyPair, fn func(model.Message), unseal ...model.KeyPair) (graph.Unsubscribe, error) {
	w := e.NewWalker(ctx, fn, unseal...)
	if err := w.Walk(root); err != nil {
		w.Close()
		return nil, err
	}
	return w.Close, nil
}
