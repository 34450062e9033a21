package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"cyphr/internal/service/conversation"
	"cyphr/internal/state"

	"go.uber.org/zap"
)

// Sweeper periodically moves every conversation's frontier past its expired
// messages, so later sessions walk less history.
type Sweeper struct {
	client   *Client
	interval time.Duration
	stopChan chan struct{}
	once     sync.Once
}

func NewSweeper(c *Client, interval time.Duration) *Sweeper {
	return &Sweeper{
		client:   c,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep every interval until Stop. Call it with go.
func (s *Sweeper) Start() {
	log := s.client.log.With(zap.Duration("interval", s.interval))
	log.Debug("expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.client.ExpireAll(context.Background())
			if err != nil {
				log.Warn("expiry sweep failed", zap.Error(err))
			}
			if n > 0 {
				log.Info("expired messages", zap.Int("conversations", n))
			}
		case <-s.stopChan:
			log.Debug("expiry sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopChan) })
}

// ExpireAll expires messages older than the configured age in every
// conversation and reports in how many the frontier moved. A frontier never
// moves back to a message older than one it already moved past.
func (c *Client) ExpireAll(ctx context.Context) (int, error) {
	sess, err := c.requireSession()
	if err != nil {
		return 0, err
	}

	st := c.Snapshot()
	now := time.Now()
	moved := 0
	var errs []error
	for _, conv := range st.Conversations {
		sorted := state.ConversationMessages(sess.pub, conv.ConversationID, st.Messages)
		m, ok := conversation.SelectExpired(sorted, now, c.opts.ExpiryAge)
		if !ok || !sess.expiresPast(conv.UUID, m.Timestamp) {
			continue
		}
		if err := sess.conversations.Expire(ctx, conv.UUID, m); err != nil {
			errs = append(errs, err)
			continue
		}
		sess.expiredUpTo(conv.UUID, m.Timestamp)
		moved++
		c.push(sess, state.MessageExpired{Message: m})
	}
	return moved, errors.Join(errs...)
}
