package conversation

import (
	"context"
	"errors"
	"fmt"

	"cyphr/internal/model"

	"golang.org/x/sync/errgroup"
)

// SendRequest sends a direct handshake to userPub and records the
// conversation it opens.
func (s *Service) SendRequest(ctx context.Context, userPub, text string) (model.Conversation, error) {
	m, err := s.engine.SendToUser(ctx, userPub, userPub, model.DirectRequest(text))
	if err != nil {
		return model.Conversation{}, err
	}
	return s.Create(ctx, m)
}

// GroupRequests is the outcome of SendGroupRequests.
type GroupRequests struct {
	Conversation model.Conversation
	Sent         []string
	Failures     map[string]error
}

// SendGroupRequests invites userPubs into a new group administered by the
// user. All invites share one chain slot and one group pair. The
// conversation is recorded once at least one invite went out.
func (s *Service) SendGroupRequests(ctx context.Context, userPubs []string, text string) (GroupRequests, error) {
	res := GroupRequests{Failures: make(map[string]error)}
	if len(userPubs) == 0 {
		return res, errors.New("no members to invite")
	}

	nextPair, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return res, err
	}
	groupPair, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return res, err
	}
	members := append([]string{s.pub}, userPubs...)

	sent := make([]*model.Message, len(userPubs))
	failed := make([]error, len(userPubs))
	g, gctx := errgroup.WithContext(ctx)
	for i, pub := range userPubs {
		g.Go(func() error {
			content := model.GroupInvite(s.pub, members, groupPair, nextPair, text)
			m, err := s.engine.SendToUser(gctx, pub, groupPair.Pub, content)
			if err != nil {
				failed[i] = err
				return nil
			}
			sent[i] = &m
			return nil
		})
	}
	g.Wait()

	var first *model.Message
	for i, pub := range userPubs {
		if failed[i] != nil {
			res.Failures[pub] = failed[i]
			continue
		}
		res.Sent = append(res.Sent, pub)
		if first == nil {
			first = sent[i]
		}
	}
	if first == nil {
		return res, fmt.Errorf("no group request could be sent: %w", errors.Join(failed...))
	}

	conv, err := s.Create(ctx, *first)
	if err != nil {
		return res, err
	}
	res.Conversation = conv
	return res, nil
}
