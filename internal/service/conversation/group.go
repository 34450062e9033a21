package conversation

import (
	"context"
	"fmt"
	"slices"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	// MemberChange describes a new membership for a group conversation.
	MemberChange struct {
		Conversation model.Conversation
		// Frontier is the conversation's current unused slot.
		Frontier   model.KeyPair
		MemberPubs []string
		Text       string
	}

	// Rotation is what UpdateGroupMembers did.
	Rotation struct {
		Removed   []string
		Added     []string
		Remaining []string
		// GroupPair is the pair the group record now lives under; it differs
		// from the old one only when members were removed.
		GroupPair model.KeyPair
		Failures  map[string]error
		// Sent is the admin's own message on the old frontier. Its next slot
		// is where the admin writes next.
		Sent model.Message
	}
)

func groupKey(adminPub, groupPub string) string {
	return graph.UserKey(adminPub, "groups", "group-"+groupPub)
}

func (s *Service) publishGroup(ctx context.Context, pair model.KeyPair, g model.Group) error {
	secret, err := s.crypto.PairSecret(pair)
	if err != nil {
		return err
	}
	data, err := provider.EncryptJSON(s.crypto, &g, secret)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, groupKey(s.pub, pair.Pub), data)
}

// ReadGroup reads the group record adminPub published under pair.
func (s *Service) ReadGroup(ctx context.Context, adminPub string, pair model.KeyPair) (model.Group, error) {
	n, err := s.store.Get(ctx, groupKey(adminPub, pair.Pub))
	if err != nil {
		return model.Group{}, err
	}
	secret, err := s.crypto.PairSecret(pair)
	if err != nil {
		return model.Group{}, err
	}
	var g model.Group
	if err := provider.DecryptJSON(s.crypto, n.Value, secret, &g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// RefreshGroup copies the membership and name of the group record into the
// stored conversation.
func (s *Service) RefreshGroup(ctx context.Context, uuid string) error {
	conv, err := s.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !conv.IsGroup() || conv.GroupPair == nil {
		return ErrNotGroup
	}

	g, err := s.ReadGroup(ctx, conv.GroupAdminPub, *conv.GroupPair)
	if err != nil {
		return fmt.Errorf("read group: %w", err)
	}
	return s.update(ctx, uuid, func(c *model.Conversation) bool {
		if slices.Equal(c.MemberPubs, g.MemberPubs) && c.Name == g.DisplayName {
			return false
		}
		c.MemberPubs = g.MemberPubs
		c.Name = g.DisplayName
		return true
	})
}

// DiffMembers splits a membership change into removed, added and remaining
// members.
func DiffMembers(before, after []string) (removed, added, remaining []string) {
	for _, pub := range before {
		if slices.Contains(after, pub) {
			remaining = append(remaining, pub)
		} else {
			removed = append(removed, pub)
		}
	}
	for _, pub := range after {
		if !slices.Contains(before, pub) {
			added = append(added, pub)
		}
	}
	return removed, added, remaining
}

func (s *Service) checkAdmin(conv model.Conversation) error {
	if !conv.IsGroup() || conv.GroupPair == nil {
		return ErrNotGroup
	}
	if !conv.IsAdmin(s.pub) {
		return ErrNotAdmin
	}
	return nil
}

// UpdateGroupMembers changes a group's membership. Removing anyone rotates
// the group to a new pair: both group records are written first, then every
// remaining member (the admin included) gets the new pair sealed to them on
// the current frontier, and added members are invited onto the new pair.
// Without removals the record is updated in place and only added members are
// invited.
func (s *Service) UpdateGroupMembers(ctx context.Context, ch MemberChange) (Rotation, error) {
	conv := ch.Conversation
	if err := s.checkAdmin(conv); err != nil {
		return Rotation{}, err
	}

	removed, added, remaining := DiffMembers(conv.MemberPubs, ch.MemberPubs)
	rot := Rotation{
		Removed:   removed,
		Added:     added,
		Remaining: remaining,
		GroupPair: *conv.GroupPair,
		Failures:  make(map[string]error),
	}
	group := model.Group{MemberPubs: ch.MemberPubs, DisplayName: conv.Name}

	if len(removed) == 0 {
		if err := s.publishGroup(ctx, rot.GroupPair, group); err != nil {
			return rot, err
		}
		notice, err := s.engine.Seal(model.UpdateGroup(conv.Name), rot.GroupPair.Epub, rot.GroupPair)
		if err != nil {
			return rot, err
		}
		if rot.Sent, err = s.engine.SendOnSlot(ctx, ch.Frontier, conv.ConversationID, notice); err != nil {
			return rot, err
		}
		rot.Sent.Content = model.UpdateGroup(conv.Name)
		s.invite(ctx, &rot, conv, ch, rot.GroupPair, ch.Frontier)
		return rot, nil
	}

	renew, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return rot, err
	}
	if err := s.publishGroup(ctx, *conv.GroupPair, group); err != nil {
		return rot, err
	}
	if err := s.publishGroup(ctx, renew, group); err != nil {
		return rot, err
	}
	rot.GroupPair = renew

	results := make([]error, len(remaining))
	sent := make([]model.Message, len(remaining))
	g, gctx := errgroup.WithContext(ctx)
	for i, pub := range remaining {
		g.Go(func() error {
			sealed, err := s.engine.SealTo(gctx, model.RenewGroup(renew), pub)
			if err == nil {
				sent[i], err = s.engine.SendOnSlot(gctx, ch.Frontier, conv.ConversationID, sealed)
			}
			results[i] = err
			return nil
		})
	}
	g.Wait()
	for i, err := range results {
		if err != nil {
			s.log.Warn("renew group member failed", zap.String("member", remaining[i]), zap.Error(err))
			rot.Failures[remaining[i]] = err
			continue
		}
		if remaining[i] == s.pub {
			// as the admin's own walker will read it once unsealed
			rot.Sent = sent[i]
			rot.Sent.Content = model.RenewGroup(renew)
			rot.Sent.NextPair = renew
		}
	}
	if err := rot.Failures[s.pub]; err != nil {
		return rot, fmt.Errorf("renew group for admin: %w", err)
	}

	s.invite(ctx, &rot, conv, ch, renew, renew)
	return rot, nil
}

func (s *Service) invite(ctx context.Context, rot *Rotation, conv model.Conversation, ch MemberChange, groupPair, nextPair model.KeyPair) {
	results := make([]error, len(rot.Added))
	g, gctx := errgroup.WithContext(ctx)
	for i, pub := range rot.Added {
		g.Go(func() error {
			content := model.GroupInvite(s.pub, ch.MemberPubs, groupPair, nextPair, ch.Text)
			_, results[i] = s.engine.SendToUser(gctx, pub, conv.ConversationID, content)
			return nil
		})
	}
	g.Wait()
	for i, err := range results {
		if err != nil {
			s.log.Warn("invite group member failed", zap.String("member", rot.Added[i]), zap.Error(err))
			rot.Failures[rot.Added[i]] = err
		}
	}
}

// UpdateGroupName renames a group and tells its members through a notice
// sealed under the group pair. It returns the notice as sent on frontier.
func (s *Service) UpdateGroupName(ctx context.Context, conv model.Conversation, frontier model.KeyPair, name string) (model.Message, error) {
	if err := s.checkAdmin(conv); err != nil {
		return model.Message{}, err
	}
	group := model.Group{MemberPubs: conv.MemberPubs, DisplayName: name}
	if err := s.publishGroup(ctx, *conv.GroupPair, group); err != nil {
		return model.Message{}, err
	}

	notice, err := s.engine.Seal(model.UpdateGroup(name), conv.GroupPair.Epub, *conv.GroupPair)
	if err != nil {
		return model.Message{}, err
	}
	m, err := s.engine.SendOnSlot(ctx, frontier, conv.ConversationID, notice)
	if err != nil {
		return model.Message{}, err
	}
	m.Content = model.UpdateGroup(name)
	return m, nil
}
