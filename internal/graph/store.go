// Package graph is the key/value graph contract the chat logic relies on:
// puts, live prefix subscriptions with at-least-once delivery, and reads.
package graph

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound  = errors.New("graph: node not found")
	ErrConflict  = errors.New("graph: version conflict")
	ErrClosed    = errors.New("graph: store closed")
	ErrForbidden = errors.New("graph: write not allowed")
)

type (
	// Node is one stored value. A nil Value is a tombstone.
	Node struct {
		Key     string
		Value   []byte
		Version uint64
	}

	// Handler receives every node under a subscribed prefix. It may be called
	// more than once for the same write and in any order across keys.
	Handler func(key string, value []byte)

	// Unsubscribe tears a subscription down. It is safe to call more than once.
	Unsubscribe func()

	// Signer signs data with the private key of one account.
	Signer func(data []byte) (string, error)

	// Authorizer is a store that must prove ownership of a private namespace
	// before writing into it.
	Authorizer interface {
		Authorize(pub string, sign Signer)
	}

	Store interface {
		// Put writes value at key; nil deletes.
		Put(ctx context.Context, key string, value []byte) error
		// CompareAndPut writes only if the node is at version; version 0 means
		// the node must not exist yet. It returns the new version.
		CompareAndPut(ctx context.Context, key string, value []byte, version uint64) (uint64, error)
		// Get returns ErrNotFound for missing keys and tombstones; the returned
		// node still carries the tombstone's version.
		Get(ctx context.Context, key string) (Node, error)
		// On replays every node under prefix, then streams later writes.
		On(ctx context.Context, prefix string, fn Handler) (Unsubscribe, error)
	}
)

// Noop is an Unsubscribe that does nothing.
func Noop() {}

// Chain combines several unsubscribe handles into one.
func Chain(unsubs ...Unsubscribe) Unsubscribe {
	return func() {
		for _, u := range unsubs {
			if u != nil {
				u()
			}
		}
	}
}

// Authorize hands sign to s for writes under pub's namespace, when s needs
// one.
func Authorize(s Store, pub string, sign Signer) {
	if a, ok := s.(Authorizer); ok {
		a.Authorize(pub, sign)
	}
}

// MessagePrefix is where messages addressed to pub are stored.
func MessagePrefix(pub string) string {
	return "messages/" + pub + "-"
}

// MessageKey addresses a message by recipient and content hash.
func MessageKey(pub, hash string) string {
	return MessagePrefix(pub) + "#" + hash
}

// MessageHash is the content hash a message key ends with.
func MessageHash(key string) (string, bool) {
	if !strings.HasPrefix(key, "messages/") {
		return "", false
	}
	i := strings.LastIndex(key, "-#")
	if i < 0 {
		return "", false
	}
	return key[i+2:], true
}

// UserKey addresses a node in pub's private namespace.
func UserKey(pub string, parts ...string) string {
	return "~" + pub + "/" + strings.Join(parts, "/")
}

// AliasKey maps an alias to its account's public key.
func AliasKey(alias string) string {
	return "~@" + alias
}

// Owner is the account whose private namespace key lies in.
func Owner(key string) (string, bool) {
	if !strings.HasPrefix(key, "~") || strings.HasPrefix(key, "~@") {
		return "", false
	}
	pub, _, ok := strings.Cut(key[1:], "/")
	return pub, ok && pub != ""
}

// IsAliasKey reports whether key binds an alias.
func IsAliasKey(key string) bool {
	return strings.HasPrefix(key, "~@")
}
