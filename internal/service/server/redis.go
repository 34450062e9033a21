package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// nodesChannel carries node writes between relay instances.
const nodesChannel = "cyphr:nodes"

type nodeEvent struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

func (c *Cluster) broadcast(ctx context.Context, key string, value []byte, version uint64) error {
	data, err := json.Marshal(&nodeEvent{
		Origin:  c.origin,
		Key:     key,
		Value:   value,
		Version: version,
	})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, nodesChannel, data)
}

// Listen relays writes made on other instances to local subscribers until ctx
// is done.
func (c *Cluster) Listen(ctx context.Context) error {
	events, err := c.bus.Subscribe(ctx, nodesChannel)
	if err != nil {
		return err
	}

	for data := range events {
		var ev nodeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Error("Unmarshal node event failed", zap.Error(err))
			continue
		}
		if ev.Origin == c.origin {
			continue
		}
		c.hub.Publish(ev.Key, ev.Value)
	}
	return ctx.Err()
}
