package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDocument is the on-disk shape of one document's row: the
// snapshot is stored as a bson.M so nested maps round-trip without a
// separate JSON encoding step, unlike Redis/File.
type mongoDocument struct {
	ID       string                 `bson:"_id"`
	Snapshot map[string]interface{} `bson:"snapshot"`
}

// MongoStore persists document snapshots as one collection row per
// document name, keyed by name. Unlike a general document store backed
// by this collection shape, saves never need optimistic-concurrency
// retries: the CRDT layer already resolves concurrent writes with
// logical timestamps before a snapshot ever reaches Save, so the most
// recent write for a name always wins outright.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps an already-configured *mongo.Collection.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (s *MongoStore) Open(ctx context.Context, name string) (Provider, error) {
	synced := make(chan struct{})
	p := &mongoProvider{store: s, name: name, synced: synced}

	var doc mongoDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	close(synced)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return p, nil
		}
		return nil, fmt.Errorf("persistence: failed to find document %s: %w", name, err)
	}
	p.snapshot = doc.Snapshot
	return p, nil
}

func (s *MongoStore) Delete(ctx context.Context, name string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("persistence: failed to delete document %s: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Close() error { return nil }

type mongoProvider struct {
	store    *MongoStore
	name     string
	snapshot map[string]interface{}
	synced   chan struct{}
}

func (p *mongoProvider) WhenSynced() <-chan struct{} { return p.synced }

func (p *mongoProvider) Snapshot() map[string]interface{} { return p.snapshot }

// Save upserts the document's row via FindOneAndUpdate with $set rather
// than ReplaceOne, so a save against a row that doesn't exist yet and a
// save against an existing row go through the same code path.
func (p *mongoProvider) Save(ctx context.Context, snapshot map[string]interface{}) error {
	filter := bson.M{"_id": p.name}
	update := bson.M{"$set": bson.M{"snapshot": snapshot}}
	opts := options.FindOneAndUpdate().SetUpsert(true)
	err := p.store.collection.FindOneAndUpdate(ctx, filter, update, opts).Err()
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("persistence: failed to save document %s: %w", p.name, err)
	}
	p.snapshot = snapshot
	return nil
}

func (p *mongoProvider) Close() error { return nil }
