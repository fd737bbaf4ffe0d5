package inmemory

import (
	"context"
	"sync"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	sharedInmemory "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/inmemory"
)

type streamKey struct {
	id  domain.AggregateID
	typ domain.AggregateType
}

// EventStore is an in-memory event log used by tests. Mutations made
// inside an in-memory transaction register compensating actions, so a
// rolled-back transaction leaves no trace.
type EventStore struct {
	mu      sync.Mutex
	streams map[streamKey][]domain.StoredEvent
}

func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[streamKey][]domain.StoredEvent)}
}

func (s *EventStore) Append(ctx context.Context, event domain.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{id: event.Metadata.AggregateID, typ: event.Metadata.AggregateType}
	events := s.streams[key]

	expected := domain.InitialVersion
	if len(events) > 0 {
		expected = events[len(events)-1].Metadata.AggregateVersion.Next()
	}
	if event.Metadata.AggregateVersion != expected {
		return domain.ErrVersionConflict
	}

	s.streams[key] = append(events, event)

	if tx, ok := sharedInmemory.TxFromContext(ctx); ok {
		version := event.Metadata.AggregateVersion
		tx.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.streams[key] = dropVersion(s.streams[key], version)
		})
	}
	return nil
}

func (s *EventStore) FindLatestSnapshot(ctx context.Context, id domain.AggregateID, typ domain.AggregateType) (*domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamKey{id: id, typ: typ}]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsSnapshot() {
			e := events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *EventStore) FindNearestSnapshotAtOrBelow(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) (*domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamKey{id: id, typ: typ}]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsSnapshot() && events[i].Metadata.AggregateVersion <= version {
			e := events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *EventStore) FindEventsFrom(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version) ([]domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StoredEvent
	for _, e := range s.streams[streamKey{id: id, typ: typ}] {
		if e.Metadata.AggregateVersion >= from {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *EventStore) FindEventsBetween(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version, until domain.Version) ([]domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StoredEvent
	for _, e := range s.streams[streamKey{id: id, typ: typ}] {
		v := e.Metadata.AggregateVersion
		if v >= from && v <= until {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *EventStore) RemoveEventsUpTo(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{id: id, typ: typ}
	events := s.streams[key]

	var kept, removed []domain.StoredEvent
	for _, e := range events {
		if e.Metadata.AggregateVersion <= version {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.streams[key] = kept

	if tx, ok := sharedInmemory.TxFromContext(ctx); ok && len(removed) > 0 {
		tx.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			restored := append([]domain.StoredEvent{}, removed...)
			s.streams[key] = append(restored, s.streams[key]...)
		})
	}
	return nil
}

// Events returns a copy of the stream, for assertions in tests.
func (s *EventStore) Events(id domain.AggregateID, typ domain.AggregateType) []domain.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamKey{id: id, typ: typ}]
	out := make([]domain.StoredEvent, len(events))
	copy(out, events)
	return out
}

func dropVersion(events []domain.StoredEvent, version domain.Version) []domain.StoredEvent {
	out := events[:0]
	for _, e := range events {
		if e.Metadata.AggregateVersion != version {
			out = append(out, e)
		}
	}
	return out
}

var _ domain.EventStore = (*EventStore)(nil)
