package server

import (
	"context"
	"errors"

	"cyphr/internal/graph"
	"cyphr/internal/repository/node"
	"cyphr/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// NodeRepository persists graph nodes. *node.NodeRepo is the production
	// implementation.
	NodeRepository interface {
		Get(ctx context.Context, key string) (*node.Document, error)
		Put(ctx context.Context, key string, value []byte) (*node.Document, error)
		CompareAndSwap(ctx context.Context, key string, value []byte, version int64) (*node.Document, error)
		FindPrefix(ctx context.Context, prefix string) ([]*node.Document, error)
	}

	// Broadcaster carries writes between relay instances.
	Broadcaster interface {
		Publish(ctx context.Context, channel string, payload []byte) error
		Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	}

	// Cluster is the relay's graph.Store: nodes live in the repository and
	// writes made on any relay instance reach subscribers on every instance.
	Cluster struct {
		repo   NodeRepository
		bus    Broadcaster
		hub    *graph.Hub
		origin string
		log    *zap.Logger
	}
)

func NewCluster(repo NodeRepository, bus Broadcaster) *Cluster {
	return &Cluster{
		repo:   repo,
		bus:    bus,
		hub:    graph.NewHub(),
		origin: uuid.NewString(),
		log:    log.Named("cluster"),
	}
}

func (c *Cluster) Put(ctx context.Context, key string, value []byte) error {
	doc, err := c.repo.Put(ctx, key, value)
	if err != nil {
		return err
	}
	c.written(ctx, doc)
	return nil
}

func (c *Cluster) CompareAndPut(ctx context.Context, key string, value []byte, version uint64) (uint64, error) {
	doc, err := c.repo.CompareAndSwap(ctx, key, value, int64(version))
	if errors.Is(err, node.ErrConflict) {
		return 0, graph.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	c.written(ctx, doc)
	return uint64(doc.Version), nil
}

func (c *Cluster) Get(ctx context.Context, key string) (graph.Node, error) {
	doc, err := c.repo.Get(ctx, key)
	if err != nil {
		return graph.Node{Key: key}, err
	}
	if doc == nil {
		return graph.Node{Key: key}, graph.ErrNotFound
	}

	n := graph.Node{Key: key, Value: documentValue(doc), Version: uint64(doc.Version)}
	if n.Value == nil {
		return n, graph.ErrNotFound
	}
	return n, nil
}

func (c *Cluster) On(ctx context.Context, prefix string, fn graph.Handler) (graph.Unsubscribe, error) {
	return c.hub.Subscribe(prefix, fn, func() ([]graph.Node, error) {
		docs, err := c.repo.FindPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		nodes := make([]graph.Node, 0, len(docs))
		for _, d := range docs {
			nodes = append(nodes, graph.Node{Key: d.Key, Value: documentValue(d), Version: uint64(d.Version)})
		}
		return nodes, nil
	})
}

// Subscriptions is the number of live subscriptions on this instance.
func (c *Cluster) Subscriptions() int {
	return c.hub.Count()
}

func (c *Cluster) written(ctx context.Context, doc *node.Document) {
	value := documentValue(doc)
	c.hub.Publish(doc.Key, value)

	if err := c.broadcast(ctx, doc.Key, value, uint64(doc.Version)); err != nil {
		c.log.Warn("broadcast write failed", zap.String("key", doc.Key), zap.Error(err))
	}
}

func documentValue(doc *node.Document) []byte {
	if doc.Tombstone {
		return nil
	}
	if doc.Value == nil {
		return []byte{}
	}
	return doc.Value
}
