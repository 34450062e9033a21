// Package chain reads and writes conversations as forward-linked lists of
// encrypted messages. Every message sits in a single-use slot and names the
// slot of the next one, so a chain is discovered by walking it from a known
// slot.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// Resolver finds the published encryption key of an account.
	Resolver interface {
		Resolve(ctx context.Context, pub string) (model.Profile, error)
	}

	// Engine sends and reads messages on behalf of one authenticated pair.
	Engine struct {
		store    graph.Store
		crypto   provider.Provider
		pair     model.KeyPair
		resolver Resolver
		log      *zap.Logger
		now      func() time.Time

		mu    sync.Mutex
		slots map[string]*sharedSlot
		refs  uint64
	}
)

func NewEngine(store graph.Store, crypto provider.Provider, pair model.KeyPair, resolver Resolver) *Engine {
	return &Engine{
		store:    store,
		crypto:   crypto,
		pair:     pair,
		resolver: resolver,
		log:      log.Named("chain"),
		now:      time.Now,
		slots:    make(map[string]*sharedSlot),
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Pair is the authenticated pair the engine acts for.
func (e *Engine) Pair() model.KeyPair {
	return e.pair
}

// SendOnSlot writes content into slot. Only holders of slot can read it.
func (e *Engine) SendOnSlot(ctx context.Context, slot model.KeyPair, conversationID string, content model.Content) (model.Message, error) {
	secret, err := e.crypto.SharedSecret(slot.Epub, slot)
	if err != nil {
		return model.Message{}, fmt.Errorf("slot secret: %w", err)
	}
	return e.send(ctx, slot.Pub, slot.Epub, secret, conversationID, content)
}

// SendToUser writes content addressed to an account, found through its
// published profile.
func (e *Engine) SendToUser(ctx context.Context, recipientPub, conversationID string, content model.Content) (model.Message, error) {
	p, err := e.resolver.Resolve(ctx, recipientPub)
	if err != nil {
		return model.Message{}, err
	}

	secret, err := e.crypto.SharedSecret(p.Epub, e.pair)
	if err != nil {
		return model.Message{}, fmt.Errorf("user secret: %w", err)
	}
	return e.send(ctx, p.Pub, e.pair.Epub, secret, conversationID, content)
}

func (e *Engine) send(ctx context.Context, recipientPub, origin string, secret provider.Secret, conversationID string, content model.Content) (model.Message, error) {
	var next model.KeyPair
	if content.NextPair != nil {
		next = *content.NextPair
	} else {
		pair, err := e.crypto.GenerateKeyPair()
		if err != nil {
			return model.Message{}, err
		}
		next = pair
	}

	msg := model.Message{
		UUID:           uuid.NewString(),
		Content:        content,
		ConversationID: conversationID,
		SenderPub:      e.pair.Pub,
		NextPair:       next,
		Timestamp:      e.now().UnixMilli(),
	}

	encrypted, err := provider.EncryptJSON(e.crypto, &msg, secret)
	if err != nil {
		return model.Message{}, fmt.Errorf("encrypt message: %w", err)
	}
	envelope, err := json.Marshal(&model.Envelope{Encrypted: encrypted, Origin: origin})
	if err != nil {
		return model.Message{}, err
	}

	// the address is derived from the ciphertext, so it can never be
	// rewritten with different content.
	hash, err := e.crypto.Hash(envelope)
	if err != nil {
		return model.Message{}, err
	}
	if err := e.store.Put(ctx, graph.MessageKey(recipientPub, hash), envelope); err != nil {
		return model.Message{}, fmt.Errorf("put message: %w", err)
	}

	msg.EncryptPub = recipientPub
	return msg, nil
}

// Seal encrypts content so that only the holder of the pair whose encryption
// key is recipientEpub can open it, using with as the sending half.
func (e *Engine) Seal(content model.Content, recipientEpub string, with model.KeyPair) (model.Content, error) {
	secret, err := e.crypto.SharedSecret(recipientEpub, with)
	if err != nil {
		return model.Content{}, err
	}
	ct, err := provider.EncryptJSON(e.crypto, &content, secret)
	if err != nil {
		return model.Content{}, err
	}
	return model.Content{
		Kind:   model.KindSealed,
		Sealed: &model.Sealed{Ciphertext: ct, Origin: with.Epub},
	}, nil
}

// SealTo seals content for the account recipientPub, from the engine's pair.
func (e *Engine) SealTo(ctx context.Context, content model.Content, recipientPub string) (model.Content, error) {
	p, err := e.resolver.Resolve(ctx, recipientPub)
	if err != nil {
		return model.Content{}, err
	}
	return e.Seal(content, p.Epub, e.pair)
}

// Unseal opens sealed content with the first of pairs that fits. A RenewGroup
// inside replaces the message's next slot. It reports false when the content
// stays sealed.
func (e *Engine) Unseal(m *model.Message, pairs ...model.KeyPair) bool {
	if m.Content.Kind != model.KindSealed {
		return true
	}
	if m.Content.Sealed == nil {
		return false
	}

	for _, pair := range pairs {
		if pair.Epriv == "" {
			continue
		}
		secret, err := e.crypto.SharedSecret(m.Content.Sealed.Origin, pair)
		if err != nil {
			continue
		}
		var inner model.Content
		if err := provider.DecryptJSON(e.crypto, m.Content.Sealed.Ciphertext, secret, &inner); err != nil {
			continue
		}

		m.Content = inner
		if inner.Kind == model.KindRenewGroup && inner.RenewPair != nil {
			m.NextPair = *inner.RenewPair
		}
		return true
	}
	return false
}

// ReadSlot calls fn with every message found in slot, now and later. Entries
// that do not decrypt are skipped.
func (e *Engine) ReadSlot(ctx context.Context, slot model.KeyPair, fn func(model.Message), unseal ...model.KeyPair) (graph.Unsubscribe, error) {
	secret, err := e.crypto.SharedSecret(slot.Epub, slot)
	if err != nil {
		return nil, fmt.Errorf("slot secret: %w", err)
	}

	return e.store.On(ctx, graph.MessagePrefix(slot.Pub), func(key string, value []byte) {
		m, ok := e.open(key, value, func(model.Envelope) (provider.Secret, error) { return secret, nil })
		if !ok {
			return
		}
		m.EncryptPub = slot.Pub
		e.Unseal(&m, unseal...)
		fn(m)
	})
}

// ReadInbox calls fn with every message addressed to the engine's own pair.
func (e *Engine) ReadInbox(ctx context.Context, fn func(model.Message)) (graph.Unsubscribe, error) {
	return e.store.On(ctx, graph.MessagePrefix(e.pair.Pub), func(key string, value []byte) {
		m, ok := e.open(key, value, func(env model.Envelope) (provider.Secret, error) {
			return e.crypto.SharedSecret(env.Origin, e.pair)
		})
		if !ok {
			return
		}
		m.EncryptPub = e.pair.Pub
		e.Unseal(&m, e.pair)
		fn(m)
	})
}

func (e *Engine) open(key string, value []byte, secretFor func(model.Envelope) (provider.Secret, error)) (model.Message, bool) {
	var m model.Message
	if value == nil {
		return m, false
	}

	var env model.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		e.log.Debug("skip unreadable envelope", zap.String("key", key), zap.Error(err))
		return m, false
	}
	secret, err := secretFor(env)
	if err != nil {
		e.log.Debug("skip envelope", zap.String("key", key), zap.Error(err))
		return m, false
	}

	err = provider.DecryptJSON(e.crypto, env.Encrypted, secret, &m)
	if errors.Is(err, provider.ErrMismatch) {
		e.log.Debug("message not for this slot", zap.String("key", key))
		return m, false
	}
	if err != nil {
		e.log.Warn("undecodable message", zap.String("key", key), zap.Error(err))
		return m, false
	}
	return m, true
}

// NextPair is the slot the next message of conv goes to: the next slot of
// the latest message, unless that message predates the conversation record
// (it was deleted and re-created), in which case the record's own frontier.
// sorted must be ordered by timestamp.
func NextPair(conv model.Conversation, sorted []model.Message) model.KeyPair {
	if len(sorted) == 0 {
		return conv.NextPair
	}
	last := sorted[len(sorted)-1]
	if last.NextPair.IsZero() {
		return conv.NextPair
	}
	if !conv.NextPair.IsZero() && last.Timestamp <= conv.CreatedTimestamp {
		return conv.NextPair
	}
	return last.NextPair
}
