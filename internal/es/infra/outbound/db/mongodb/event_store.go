package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	sharedMongo "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/mongodb"
)

// EventStore persists event streams in a MongoDB collection. The stream
// position is part of the document identity, so the unique _id index
// backs the optimistic append check.
type EventStore struct {
	coll *mongo.Collection
}

func NewEventStore(client *mongo.Client, dbName string) *EventStore {
	return &EventStore{coll: client.Database(dbName).Collection("events")}
}

type eventID struct {
	AggregateID   string `bson:"aggregateId"`
	AggregateType string `bson:"aggregateType"`
	Version       int64  `bson:"version"`
}

type eventDocument struct {
	ID            eventID   `bson:"_id"`
	EventName     string    `bson:"eventName"`
	EventVersion  int       `bson:"eventVersion"`
	Payload       bson.M    `bson:"payload"`
	AgentType     string    `bson:"agentType"`
	AgentID       string    `bson:"agentId"`
	OccurredAt    time.Time `bson:"occurredAt"`
	IsSnapshot    bool      `bson:"isSnapshot"`
}

func (s *EventStore) Append(ctx context.Context, event domain.StoredEvent) error {
	id := event.Metadata.AggregateID
	typ := event.Metadata.AggregateType

	expected := domain.InitialVersion
	last, err := s.findLast(ctx, id, typ)
	if err != nil {
		return err
	}
	if last != nil {
		expected = domain.Version(last.ID.Version).Next()
	}
	if event.Metadata.AggregateVersion != expected {
		return domain.ErrVersionConflict
	}

	_, err = s.coll.InsertOne(ctx, toEventDocument(event))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrVersionConflict
	}
	return err
}

func (s *EventStore) FindLatestSnapshot(ctx context.Context, id domain.AggregateID, typ domain.AggregateType) (*domain.StoredEvent, error) {
	filter := streamFilter(id, typ)
	filter["isSnapshot"] = true
	return s.findOne(ctx, filter)
}

func (s *EventStore) FindNearestSnapshotAtOrBelow(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) (*domain.StoredEvent, error) {
	filter := streamFilter(id, typ)
	filter["isSnapshot"] = true
	filter["_id.version"] = bson.M{"$lte": version.Int64()}
	return s.findOne(ctx, filter)
}

func (s *EventStore) FindEventsFrom(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version) ([]domain.StoredEvent, error) {
	filter := streamFilter(id, typ)
	filter["_id.version"] = bson.M{"$gte": from.Int64()}
	return s.find(ctx, filter)
}

func (s *EventStore) FindEventsBetween(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version, until domain.Version) ([]domain.StoredEvent, error) {
	filter := streamFilter(id, typ)
	filter["_id.version"] = bson.M{"$gte": from.Int64(), "$lte": until.Int64()}
	return s.find(ctx, filter)
}

func (s *EventStore) RemoveEventsUpTo(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) error {
	filter := streamFilter(id, typ)
	filter["_id.version"] = bson.M{"$lte": version.Int64()}
	_, err := s.coll.DeleteMany(ctx, filter)
	return err
}

// EnsureIndexes creates the snapshot lookup index.
func (s *EventStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "_id.aggregateId", Value: 1},
			{Key: "_id.aggregateType", Value: 1},
			{Key: "isSnapshot", Value: 1},
			{Key: "_id.version", Value: -1},
		},
	})
	return err
}

func (s *EventStore) findLast(ctx context.Context, id domain.AggregateID, typ domain.AggregateType) (*eventDocument, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id.version", Value: -1}})

	var doc eventDocument
	err := s.coll.FindOne(ctx, streamFilter(id, typ), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *EventStore) findOne(ctx context.Context, filter bson.M) (*domain.StoredEvent, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id.version", Value: -1}})

	var doc eventDocument
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	event := fromEventDocument(&doc)
	return &event, nil
}

func (s *EventStore) find(ctx context.Context, filter bson.M) ([]domain.StoredEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id.version", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []domain.StoredEvent
	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, fromEventDocument(&doc))
	}
	return events, cursor.Err()
}

func streamFilter(id domain.AggregateID, typ domain.AggregateType) bson.M {
	return bson.M{
		"_id.aggregateId":   string(id),
		"_id.aggregateType": string(typ),
	}
}

func toEventDocument(event domain.StoredEvent) *eventDocument {
	return &eventDocument{
		ID: eventID{
			AggregateID:   string(event.Metadata.AggregateID),
			AggregateType: string(event.Metadata.AggregateType),
			Version:       event.Metadata.AggregateVersion.Int64(),
		},
		EventName:    string(event.Name),
		EventVersion: event.SchemaVersion,
		Payload:      bson.M(event.Payload),
		AgentType:    string(event.Metadata.Agent.Type),
		AgentID:      event.Metadata.Agent.ID,
		OccurredAt:   event.Metadata.OccurredAt,
		IsSnapshot:   event.IsSnapshot(),
	}
}

func fromEventDocument(doc *eventDocument) domain.StoredEvent {
	return domain.StoredEvent{
		Name:          domain.EventName(doc.EventName),
		SchemaVersion: doc.EventVersion,
		Payload:       sharedMongo.ToDocument(doc.Payload),
		Metadata: domain.EventMetadata{
			AggregateID:      domain.AggregateID(doc.ID.AggregateID),
			AggregateType:    domain.AggregateType(doc.ID.AggregateType),
			AggregateVersion: domain.Version(doc.ID.Version),
			Agent: domain.Agent{
				Type: domain.AgentType(doc.AgentType),
				ID:   doc.AgentID,
			},
			OccurredAt: doc.OccurredAt,
			IsSnapshot: doc.IsSnapshot,
		},
	}
}

var _ domain.EventStore = (*EventStore)(nil)
