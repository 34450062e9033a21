package conversation

import (
	"context"
	"time"

	"cyphr/internal/graph"
	"cyphr/internal/model"
)

// DefaultExpiry is how old a message must be before it can be expired.
const DefaultExpiry = 90 * 24 * time.Hour

// SelectExpired picks the message the frontier can move past. A message
// qualifies when it is older than threshold and is the only message found in
// its slot, so skipping it cannot hide a branch of the history. The latest
// qualifying message in sorted (timestamp order) wins.
func SelectExpired(sorted []model.Message, now time.Time, threshold time.Duration) (model.Message, bool) {
	counts := make(map[string]int)
	for _, m := range sorted {
		if m.EncryptPub != "" {
			counts[m.EncryptPub]++
		}
	}

	cutoff := now.Add(-threshold).UnixMilli()
	for i := len(sorted) - 1; i >= 0; i-- {
		m := sorted[i]
		if m.Timestamp != 0 && m.Timestamp < cutoff && counts[m.EncryptPub] == 1 {
			return m, true
		}
	}
	return model.Message{}, false
}

// ExpireMessages applies SelectExpired to a conversation and, when a message
// qualifies, moves the stored frontier past it. It returns the expired
// message.
func (s *Service) ExpireMessages(ctx context.Context, conv model.Conversation, sorted []model.Message, threshold time.Duration) (model.Message, bool, error) {
	m, ok := SelectExpired(sorted, s.now(), threshold)
	if !ok {
		return model.Message{}, false, nil
	}
	if err := s.Expire(ctx, conv.UUID, m); err != nil {
		return model.Message{}, false, err
	}
	return m, true, nil
}

// LoadExpired walks the conversation again from its first slot, recovering
// history hidden by expiry, until the returned handle is called.
func (s *Service) LoadExpired(ctx context.Context, conv model.Conversation, fn func(model.Message)) (graph.Unsubscribe, error) {
	return s.engine.ReadChainRecursive(ctx, conv.RootPair, fn, s.UnsealPairs(conv)...)
}

// UnsealPairs lists the pairs that may open sealed contents in conv.
func (s *Service) UnsealPairs(conv model.Conversation) []model.KeyPair {
	pairs := []model.KeyPair{s.engine.Pair()}
	if conv.GroupPair != nil {
		pairs = append(pairs, *conv.GroupPair)
	}
	return append(pairs, conv.FormerGroupPairs...)
}
