package client

import (
	"context"

	"cyphr/internal/state"
)

func (c *Client) execute(ctx context.Context, eff state.Effect) error {
	sess := c.current()
	if sess == nil {
		return nil
	}

	switch eff := eff.(type) {
	case state.ResolveRequest:
		return sess.requests.MarkResolved(ctx, eff.Request.UUID)
	case state.AmendRequest:
		m, err := sess.requests.Amend(ctx, c.frontier(sess, eff.Conversation), eff.Conversation.ConversationID, eff.Request)
		if err != nil {
			return err
		}
		sess.remember(eff.Conversation.UUID, m)
	case state.UpdateLastSeen:
		return sess.conversations.UpdateLastSeen(ctx, eff.ConversationUUID, eff.Timestamp)
	case state.RenewGroupPair:
		return sess.conversations.UpdateGroupPair(ctx, eff.ConversationUUID, eff.Pair, eff.Timestamp)
	case state.RefreshGroup:
		return sess.conversations.RefreshGroup(ctx, eff.ConversationUUID)
	case state.Notify:
		c.mu.RLock()
		notify := c.notify
		c.mu.RUnlock()
		if notify != nil {
			notify(eff)
		}
	}
	return nil
}
