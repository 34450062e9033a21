package chain

import (
	"context"
	"sync"

	"cyphr/internal/graph"
	"cyphr/internal/model"
)

// sharedSlot is one store subscription on a slot, shared by every reader of
// the engine that walks through it. It is torn down with its last reader.
type sharedSlot struct {
	pub     string
	readers map[uint64]func(model.Message)
	order   []string
	msgs    map[string]model.Message
	unsub   graph.Unsubscribe
	ready   bool
}

// watchSlot calls fn with every message found in slot, now and later. All
// callers watching the same slot share a single store subscription; a late
// caller is first handed what the slot has delivered so far.
func (e *Engine) watchSlot(ctx context.Context, slot model.KeyPair, fn func(model.Message)) (graph.Unsubscribe, error) {
	e.mu.Lock()
	e.refs++
	ref := e.refs

	s, ok := e.slots[slot.Pub]
	if ok {
		s.readers[ref] = fn
		backlog := s.messages()
		e.mu.Unlock()

		for _, m := range backlog {
			fn(m)
		}
		return e.releaser(s, ref), nil
	}

	s = &sharedSlot{
		pub:     slot.Pub,
		readers: map[uint64]func(model.Message){ref: fn},
		msgs:    make(map[string]model.Message),
	}
	e.slots[slot.Pub] = s
	e.mu.Unlock()

	unsub, err := e.ReadSlot(ctx, slot, func(m model.Message) { e.fanOut(s, m) })
	if err != nil {
		e.mu.Lock()
		delete(s.readers, ref)
		if e.slots[slot.Pub] == s {
			delete(e.slots, slot.Pub)
		}
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	s.unsub = unsub
	s.ready = true
	orphaned := len(s.readers) == 0
	e.mu.Unlock()
	if orphaned {
		unsub()
	}
	return e.releaser(s, ref), nil
}

// backlog is what the shared subscription on pub has delivered so far.
func (e *Engine) backlog(pub string) []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[pub]
	if !ok {
		return nil
	}
	return s.messages()
}

func (s *sharedSlot) messages() []model.Message {
	out := make([]model.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.msgs[id])
	}
	return out
}

func (e *Engine) fanOut(s *sharedSlot, m model.Message) {
	e.mu.Lock()
	if _, dup := s.msgs[m.UUID]; !dup {
		s.order = append(s.order, m.UUID)
	}
	s.msgs[m.UUID] = m
	readers := make([]func(model.Message), 0, len(s.readers))
	for _, fn := range s.readers {
		readers = append(readers, fn)
	}
	e.mu.Unlock()

	for _, fn := range readers {
		fn(m)
	}
}

func (e *Engine) releaser(s *sharedSlot, ref uint64) graph.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(s.readers, ref)
			last := len(s.readers) == 0
			if last && e.slots[s.pub] == s {
				delete(e.slots, s.pub)
			}
			unsub := s.unsub
			ready := s.ready
			e.mu.Unlock()

			// a slot still subscribing is torn down by its first caller
			if last && ready {
				unsub()
			}
		})
	}
}
