package node

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrConflict = errors.New("node: version conflict")

type (
	// Document is one graph node as persisted by the relay.
	Document struct {
		Key       string    `bson:"_id"`
		Value     []byte    `bson:"value"`
		Tombstone bool      `bson:"tombstone"`
		Version   int64     `bson:"version"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	NodeRepo struct {
		collection *mongo.Collection
	}
)

func NewNodeRepo(db *mongo.Database) *NodeRepo {
	return &NodeRepo{
		collection: db.Collection("nodes"),
	}
}

// Get returns nil when the key has never been written.
func (r *NodeRepo) Get(ctx context.Context, key string) (*Document, error) {
	var doc Document
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// Put writes value unconditionally and returns the stored document. A nil
// value leaves a tombstone.
func (r *NodeRepo) Put(ctx context.Context, key string, value []byte) (*Document, error) {
	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"tombstone":  value == nil,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc Document
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CompareAndSwap writes value only when the stored version equals version.
// Version 0 inserts and fails if the key already exists.
func (r *NodeRepo) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) (*Document, error) {
	if version == 0 {
		doc := Document{
			Key:       key,
			Value:     value,
			Tombstone: value == nil,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		}
		_, err := r.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		if err != nil {
			return nil, err
		}
		return &doc, nil
	}

	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"tombstone":  value == nil,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc Document
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key, "version": version}, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindPrefix returns every document whose key starts with prefix, ordered by
// key.
func (r *NodeRepo) FindPrefix(ctx context.Context, prefix string) ([]*Document, error) {
	filter := bson.M{
		"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []*Document
	for cur.Next(ctx) {
		var doc Document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = append(res, &doc)
	}
	return res, cur.Err()
}
