package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
	sharedMongo "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/mongodb"
)

// Store persists outbox entries in a MongoDB collection. Batch claiming
// is a conditional update: lock fields are set only where all of
// lockedAt, acknowledgedAt and failedAt are still absent, which is the
// mutual-exclusion primitive across concurrently running instances.
type Store struct {
	coll *mongo.Collection
}

func NewStore(client *mongo.Client, dbName string) *Store {
	return &Store{coll: client.Database(dbName).Collection("outbox")}
}

// Collection exposes the underlying collection for the insert watcher.
func (s *Store) Collection() *mongo.Collection {
	return s.coll
}

type entryDocument struct {
	ID             uuid.UUID  `bson:"_id"`
	Target         string     `bson:"target"`
	RoutingKey     string     `bson:"routingKey"`
	Payload        bson.M     `bson:"payload"`
	CreatedAt      time.Time  `bson:"createdAt"`
	LockedAt       *time.Time `bson:"lockedAt,omitempty"`
	LockToken      *uuid.UUID `bson:"lockToken,omitempty"`
	AcknowledgedAt *time.Time `bson:"acknowledgedAt,omitempty"`
	FailedAt       *time.Time `bson:"failedAt,omitempty"`
	RetryCount     int        `bson:"retryCount"`
}

func (s *Store) Insert(ctx context.Context, entries ...domain.Entry) error {
	if !sharedMongo.TransactionRunning(ctx) {
		return domain.ErrNoActiveTransaction
	}

	docs := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, toEntryDocument(entry))
	}
	_, err := s.coll.InsertMany(ctx, docs)
	return err
}

func (s *Store) LockUnlockedBatch(ctx context.Context, token domain.LockToken, limit int) error {
	unlocked := bson.M{
		"lockedAt":       nil,
		"acknowledgedAt": nil,
		"failedAt":       nil,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := s.coll.Find(ctx, unlocked, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var ids []uuid.UUID
	for cursor.Next(ctx) {
		var doc struct {
			ID uuid.UUID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// Conditional claim: a candidate grabbed by someone else in the
	// meantime simply does not match anymore. The re-read by token
	// decides what was won.
	filter := bson.M{
		"_id":            bson.M{"$in": ids},
		"lockedAt":       nil,
		"acknowledgedAt": nil,
		"failedAt":       nil,
	}
	update := bson.M{"$set": bson.M{
		"lockedAt":  time.Now(),
		"lockToken": uuid.UUID(token),
	}}
	_, err = s.coll.UpdateMany(ctx, filter, update)
	return err
}

func (s *Store) FindLockedEntries(ctx context.Context, token domain.LockToken) ([]domain.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cursor, err := s.coll.Find(ctx, bson.M{"lockToken": uuid.UUID(token)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []domain.Entry
	for cursor.Next(ctx) {
		var doc entryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, fromEntryDocument(&doc))
	}
	return entries, cursor.Err()
}

func (s *Store) AcknowledgeLocked(ctx context.Context, token domain.LockToken) error {
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"lockToken": uuid.UUID(token)},
		bson.M{
			"$set":   bson.M{"acknowledgedAt": time.Now()},
			"$unset": bson.M{"lockedAt": "", "lockToken": ""},
		})
	return err
}

func (s *Store) ReleaseLocked(ctx context.Context, token domain.LockToken, maxRetries int) error {
	// Entries whose retry count would reach the bound fail terminally.
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"lockToken": uuid.UUID(token), "retryCount": bson.M{"$gte": maxRetries - 1}},
		bson.M{
			"$set":   bson.M{"failedAt": time.Now()},
			"$inc":   bson.M{"retryCount": 1},
			"$unset": bson.M{"lockedAt": "", "lockToken": ""},
		})
	if err != nil {
		return err
	}

	// The rest go back into the queue for the next drain.
	_, err = s.coll.UpdateMany(ctx,
		bson.M{"lockToken": uuid.UUID(token)},
		bson.M{
			"$inc":   bson.M{"retryCount": 1},
			"$unset": bson.M{"lockedAt": "", "lockToken": ""},
		})
	return err
}

func (s *Store) FindFailedBefore(ctx context.Context, cutoff time.Time) ([]domain.Entry, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"failedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []domain.Entry
	for cursor.Next(ctx) {
		var doc entryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, fromEntryDocument(&doc))
	}
	return entries, cursor.Err()
}

func (s *Store) UnlockLockedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{
			"lockedAt":       bson.M{"$lt": cutoff},
			"acknowledgedAt": nil,
			"failedAt":       nil,
		},
		bson.M{"$unset": bson.M{"lockedAt": "", "lockToken": ""}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"acknowledgedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// EnsureIndexes creates the claim-scan index and the secondary lookup
// indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "lockedAt", Value: 1},
			{Key: "failedAt", Value: 1},
			{Key: "acknowledgedAt", Value: 1},
			{Key: "createdAt", Value: 1},
		}},
		{Keys: bson.D{{Key: "lockedAt", Value: 1}}},
		{Keys: bson.D{{Key: "lockToken", Value: 1}}},
		{Keys: bson.D{{Key: "acknowledgedAt", Value: 1}}},
		{Keys: bson.D{{Key: "failedAt", Value: 1}}},
	})
	return err
}

func toEntryDocument(entry domain.Entry) *entryDocument {
	doc := &entryDocument{
		ID:             entry.ID,
		Target:         entry.Target,
		RoutingKey:     entry.RoutingKey,
		Payload:        bson.M(entry.Payload),
		CreatedAt:      entry.CreatedAt,
		LockedAt:       entry.LockedAt,
		AcknowledgedAt: entry.AcknowledgedAt,
		FailedAt:       entry.FailedAt,
		RetryCount:     entry.RetryCount,
	}
	if entry.LockToken != nil {
		token := uuid.UUID(*entry.LockToken)
		doc.LockToken = &token
	}
	return doc
}

func fromEntryDocument(doc *entryDocument) domain.Entry {
	entry := domain.Entry{
		ID:             doc.ID,
		Target:         doc.Target,
		RoutingKey:     doc.RoutingKey,
		Payload:        sharedMongo.ToDocument(doc.Payload),
		CreatedAt:      doc.CreatedAt,
		LockedAt:       doc.LockedAt,
		AcknowledgedAt: doc.AcknowledgedAt,
		FailedAt:       doc.FailedAt,
		RetryCount:     doc.RetryCount,
	}
	if doc.LockToken != nil {
		token := domain.LockToken(*doc.LockToken)
		entry.LockToken = &token
	}
	return entry
}

var _ domain.Store = (*Store)(nil)
