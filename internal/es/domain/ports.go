package domain

import "context"

// EventStore is the append-only per-stream event log.
type EventStore interface {
	// Append persists the event. It must fail with ErrVersionConflict
	// unless the event's version is exactly one past the last stored
	// version of its stream, or the stream is empty and the version is 0.
	Append(ctx context.Context, event StoredEvent) error

	// FindLatestSnapshot returns the most recent snapshot of the stream,
	// or nil if none exists.
	FindLatestSnapshot(ctx context.Context, id AggregateID, typ AggregateType) (*StoredEvent, error)

	// FindNearestSnapshotAtOrBelow returns the most recent snapshot with a
	// version at or below the given bound, or nil if none exists.
	FindNearestSnapshotAtOrBelow(ctx context.Context, id AggregateID, typ AggregateType, version Version) (*StoredEvent, error)

	// FindEventsFrom returns all events with version >= from, ordered by
	// version.
	FindEventsFrom(ctx context.Context, id AggregateID, typ AggregateType, from Version) ([]StoredEvent, error)

	// FindEventsBetween returns all events with from <= version <= until,
	// ordered by version.
	FindEventsBetween(ctx context.Context, id AggregateID, typ AggregateType, from Version, until Version) ([]StoredEvent, error)

	// RemoveEventsUpTo deletes all events with version <= the given
	// version. Used only by history collapsing.
	RemoveEventsUpTo(ctx context.Context, id AggregateID, typ AggregateType, version Version) error
}

// EventPublisher receives freshly appended events. The production
// implementation writes outbox entries within the caller's transaction,
// which is the single mechanism coupling "event happened" to "message will
// eventually be delivered".
type EventPublisher interface {
	Publish(ctx context.Context, events []StoredEvent) error
}
