package graph

import (
	"bytes"
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const nodesBucket = "nodes"

type (
	boltRecord struct {
		Value     []byte `cbor:"1,keyasint,omitempty"`
		Tombstone bool   `cbor:"2,keyasint,omitempty"`
		Version   uint64 `cbor:"3,keyasint"`
		Updated   int64  `cbor:"4,keyasint"`
	}

	// Bolt is a Store persisted in a local bbolt database. Subscriptions are
	// served in-process.
	Bolt struct {
		db  *bolt.DB
		hub *Hub
	}
)

// NewBolt prepares the nodes bucket in db.
func NewBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(nodesBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Bolt{db: db, hub: NewHub()}, nil
}

func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(nodesBucket))
		rec, err := readRecord(bkt, key)
		if err != nil {
			return err
		}
		return writeRecord(bkt, key, value, rec.Version+1)
	})
	if err != nil {
		return err
	}
	b.hub.Publish(key, value)
	return nil
}

func (b *Bolt) CompareAndPut(ctx context.Context, key string, value []byte, version uint64) (uint64, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(nodesBucket))
		rec, err := readRecord(bkt, key)
		if err != nil {
			return err
		}
		if rec.Version != version {
			return ErrConflict
		}
		return writeRecord(bkt, key, value, version+1)
	})
	if err != nil {
		return 0, err
	}
	b.hub.Publish(key, value)
	return version + 1, nil
}

func (b *Bolt) Get(ctx context.Context, key string) (Node, error) {
	n := Node{Key: key}
	err := b.db.View(func(tx *bolt.Tx) error {
		rec, err := readRecord(tx.Bucket([]byte(nodesBucket)), key)
		if err != nil {
			return err
		}
		n.Version = rec.Version
		if rec.Version == 0 || rec.Tombstone {
			return ErrNotFound
		}
		n.Value = recordValue(rec)
		return nil
	})
	return n, err
}

func (b *Bolt) On(ctx context.Context, prefix string, fn Handler) (Unsubscribe, error) {
	return b.hub.Subscribe(prefix, fn, func() ([]Node, error) {
		var replay []Node
		err := b.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket([]byte(nodesBucket)).Cursor()
			p := []byte(prefix)
			for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
				var rec boltRecord
				if err := cbor.Unmarshal(v, &rec); err != nil {
					return err
				}
				replay = append(replay, Node{Key: string(k), Value: recordValue(rec), Version: rec.Version})
			}
			return nil
		})
		return replay, err
	})
}

// Subscriptions is the number of live subscriptions.
func (b *Bolt) Subscriptions() int {
	return b.hub.Count()
}

// Close drops every subscription. The database belongs to the caller.
func (b *Bolt) Close() error {
	b.hub.Close()
	return nil
}

func readRecord(bkt *bolt.Bucket, key string) (boltRecord, error) {
	var rec boltRecord
	raw := bkt.Get([]byte(key))
	if raw == nil {
		return rec, nil
	}
	err := cbor.Unmarshal(raw, &rec)
	return rec, err
}

func writeRecord(bkt *bolt.Bucket, key string, value []byte, version uint64) error {
	rec := boltRecord{
		Value:     value,
		Tombstone: value == nil,
		Version:   version,
		Updated:   time.Now().UnixMilli(),
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(key), raw)
}

func recordValue(rec boltRecord) []byte {
	if rec.Tombstone {
		return nil
	}
	if rec.Value == nil {
		return []byte{}
	}
	return rec.Value
}
