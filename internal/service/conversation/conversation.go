package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrNotAdmin = errors.New("only the group admin can change the group")
	ErrNotGroup = errors.New("not a group conversation")
)

const recordPrefix = "conversation-"

type (
	Handler struct {
		Appended func(model.Conversation)
		Deleted  func(uuid string)
	}

	// Service owns the user's conversation records and the group records the
	// user administers.
	Service struct {
		store  graph.Store
		crypto provider.Provider
		engine *chain.Engine
		ids    *identity.Table
		pub    string
		key    provider.Secret
		log    *zap.Logger
		now    func() time.Time
	}
)

func NewService(store graph.Store, crypto provider.Provider, engine *chain.Engine, ids *identity.Table) (*Service, error) {
	pair := engine.Pair()
	key, err := crypto.PairSecret(pair)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		crypto: crypto,
		engine: engine,
		ids:    ids,
		pub:    pair.Pub,
		key:    key,
		log:    log.Named("conversation"),
		now:    time.Now,
	}, nil
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) recordKey(uuid string) string {
	return graph.UserKey(s.pub, "conversations", recordPrefix+uuid)
}

// CounterpartyID is the side of m that is not the user: the conversation id,
// or the sender when the message was addressed to the user directly.
func (s *Service) CounterpartyID(m model.Message) string {
	if m.ConversationID != s.pub {
		return m.ConversationID
	}
	return m.SenderPub
}

// Create records the conversation m opens. The local uuid of a counterparty
// is reused across repeated handshakes.
func (s *Service) Create(ctx context.Context, m model.Message) (model.Conversation, error) {
	target := s.CounterpartyID(m)
	conv := model.Conversation{
		UUID:              s.ids.UUID(target),
		ConversationID:    target,
		RootPair:          m.NextPair,
		NextPair:          m.NextPair,
		LastSeenTimestamp: m.Timestamp,
		CreatedTimestamp:  s.now().UnixMilli(),
	}

	if req := m.Content.Request; req != nil && req.Kind == model.RequestGroupInvite {
		conv.GroupAdminPub = req.AdminPub
		conv.MemberPubs = append([]string(nil), req.MemberPubs...)
		if req.GroupPair != nil {
			pair := *req.GroupPair
			conv.GroupPair = &pair
		}
		conv.GroupTimestamp = m.Timestamp

		if conv.IsAdmin(s.pub) && conv.GroupPair != nil {
			if err := s.publishGroup(ctx, *conv.GroupPair, model.Group{MemberPubs: conv.MemberPubs}); err != nil {
				return model.Conversation{}, err
			}
		}
	}

	if err := s.write(ctx, conv); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

func (s *Service) write(ctx context.Context, conv model.Conversation) error {
	data, err := provider.EncryptJSON(s.crypto, &conv, s.key)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.recordKey(conv.UUID), data)
}

func (s *Service) decode(value []byte) (model.Conversation, error) {
	var conv model.Conversation
	err := provider.DecryptJSON(s.crypto, value, s.key, &conv)
	return conv, err
}

// Subscribe streams stored conversations and their later changes.
func (s *Service) Subscribe(ctx context.Context, h Handler) (graph.Unsubscribe, error) {
	prefix := graph.UserKey(s.pub, "conversations", "")
	return s.store.On(ctx, prefix, func(key string, value []byte) {
		if value == nil {
			if h.Deleted != nil {
				h.Deleted(strings.TrimPrefix(strings.TrimPrefix(key, prefix), recordPrefix))
			}
			return
		}

		conv, err := s.decode(value)
		if err != nil {
			s.log.Debug("skip conversation record", zap.String("key", key), zap.Error(err))
			return
		}
		s.ids.Remember(conv.ConversationID, conv.UUID)
		if h.Appended != nil {
			h.Appended(conv)
		}
	})
}

// Get reads one conversation record.
func (s *Service) Get(ctx context.Context, uuid string) (model.Conversation, error) {
	n, err := s.store.Get(ctx, s.recordKey(uuid))
	if err != nil {
		return model.Conversation{}, err
	}
	return s.decode(n.Value)
}

// Remove deletes the local record. For a group admin the group is abandoned.
func (s *Service) Remove(ctx context.Context, conv model.Conversation) error {
	return s.store.Put(ctx, s.recordKey(conv.UUID), nil)
}

// update rewrites a stored conversation through fn with a version check. fn
// returns false to leave the record alone.
func (s *Service) update(ctx context.Context, uuid string, fn func(*model.Conversation) bool) error {
	return graph.Update(ctx, s.store, s.recordKey(uuid), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, nil
		}
		conv, err := s.decode(current)
		if err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", uuid, err)
		}
		if !fn(&conv) {
			return nil, nil
		}
		return provider.EncryptJSON(s.crypto, &conv, s.key)
	})
}

// UpdateLastSeen moves the last seen mark forward; it never moves back.
func (s *Service) UpdateLastSeen(ctx context.Context, uuid string, timestamp int64) error {
	return s.update(ctx, uuid, func(c *model.Conversation) bool {
		if timestamp <= c.LastSeenTimestamp {
			return false
		}
		c.LastSeenTimestamp = timestamp
		return true
	})
}

// UpdateGroupPair installs a renewed group pair announced at timestamp,
// unless a newer one is already installed.
func (s *Service) UpdateGroupPair(ctx context.Context, uuid string, pair model.KeyPair, timestamp int64) error {
	return s.update(ctx, uuid, func(c *model.Conversation) bool {
		if !c.IsGroup() || timestamp <= c.GroupTimestamp {
			return false
		}
		if c.GroupPair != nil && *c.GroupPair != pair {
			c.FormerGroupPairs = append(c.FormerGroupPairs, *c.GroupPair)
		}
		c.GroupPair = &pair
		c.GroupTimestamp = timestamp
		return true
	})
}

// Expire moves the conversation's frontier to the next slot of m, so loading
// the conversation no longer walks the history before it.
func (s *Service) Expire(ctx context.Context, uuid string, m model.Message) error {
	target := s.CounterpartyID(m)
	return s.update(ctx, uuid, func(c *model.Conversation) bool {
		if c.ConversationID != target || c.NextPair == m.NextPair {
			return false
		}
		c.NextPair = m.NextPair
		return true
	})
}
