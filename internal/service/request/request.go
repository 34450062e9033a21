package request

import (
	"context"

	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/service/conversation"
	"cyphr/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// Service resolves handshakes. Resolved request uuids are kept in the
	// user's namespace because the store replays every old handshake on each
	// new session.
	Service struct {
		store         graph.Store
		engine        *chain.Engine
		conversations *conversation.Service
		pub           string
		log           *zap.Logger
	}
)

func NewService(store graph.Store, engine *chain.Engine, conversations *conversation.Service) *Service {
	return &Service{
		store:         store,
		engine:        engine,
		conversations: conversations,
		pub:           engine.Pair().Pub,
		log:           log.Named("request"),
	}
}

func (s *Service) prefix() string {
	return graph.UserKey(s.pub, "requests", "")
}

// SubscribeRemoved streams the uuids of every request already resolved.
func (s *Service) SubscribeRemoved(ctx context.Context, fn func(uuid string)) (graph.Unsubscribe, error) {
	return s.store.On(ctx, s.prefix(), func(key string, value []byte) {
		if len(value) > 0 {
			fn(string(value))
		}
	})
}

// SubscribeIncoming streams the handshakes addressed to the user.
func (s *Service) SubscribeIncoming(ctx context.Context, fn func(model.ContactRequest)) (graph.Unsubscribe, error) {
	return s.engine.ReadInbox(ctx, func(m model.Message) {
		req, ok := model.RequestFromMessage(m)
		if !ok {
			s.log.Debug("ignore non-request inbox message", zap.String("uuid", m.UUID))
			return
		}
		fn(req)
	})
}

// MarkResolved records that req has been handled.
func (s *Service) MarkResolved(ctx context.Context, uuid string) error {
	return s.store.Put(ctx, graph.UserKey(s.pub, "requests", "request-"+uuid), []byte(uuid))
}

// Accept resolves req and opens its conversation.
func (s *Service) Accept(ctx context.Context, req model.ContactRequest) (model.Conversation, error) {
	if err := s.MarkResolved(ctx, req.UUID); err != nil {
		return model.Conversation{}, err
	}
	return s.conversations.Create(ctx, req.Message())
}

func (s *Service) Decline(ctx context.Context, req model.ContactRequest) error {
	return s.MarkResolved(ctx, req.UUID)
}

// Amend resolves a repeated handshake from someone the user already talks
// to: instead of a new conversation, the existing one is pointed at the slot
// the handshake offered, for both sides. It returns the amendment as sent on
// frontier.
func (s *Service) Amend(ctx context.Context, frontier model.KeyPair, conversationID string, req model.ContactRequest) (model.Message, error) {
	if err := s.MarkResolved(ctx, req.UUID); err != nil {
		return model.Message{}, err
	}
	return s.engine.SendOnSlot(ctx, frontier, conversationID, model.AmendRequest(req.NextPair))
}
