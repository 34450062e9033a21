package graph

import (
	"context"
	"errors"
	"fmt"
)

// MaxUpdateAttempts bounds the read-modify-write retries of Update.
const MaxUpdateAttempts = 5

// Update applies fn to the current value at key and writes the result with a
// version check, retrying when another writer got there first. fn receives nil
// when the node does not exist; returning a nil value skips the write.
func Update(ctx context.Context, s Store, key string, fn func(current []byte) ([]byte, error)) error {
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		n, err := s.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		next, err := fn(n.Value)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		_, err = s.CompareAndPut(ctx, key, next, n.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", key, ErrConflict)
}

// Once reads key, waiting for a value that satisfies pred. A missing node is
// offered to pred as nil; if pred accepts it Once returns ErrNotFound at once.
func Once(ctx context.Context, s Store, key string, pred func(value []byte) bool) ([]byte, error) {
	if pred == nil {
		pred = func([]byte) bool { return true }
	}

	n, err := s.Get(ctx, key)
	switch {
	case err == nil && pred(n.Value):
		return n.Value, nil
	case errors.Is(err, ErrNotFound) && pred(nil):
		return nil, ErrNotFound
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	found := make(chan []byte, 1)
	unsub, err := s.On(ctx, key, func(k string, value []byte) {
		if k != key || value == nil || !pred(value) {
			return
		}
		select {
		case found <- value:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	select {
	case v := <-found:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
