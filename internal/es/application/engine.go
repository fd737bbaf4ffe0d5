package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/platform/persistence"
)

// SnapshotInterval is the snapshot cadence: whenever the version following
// a commit is a multiple of it, a snapshot is appended at that version.
// This bounds replay to at most SnapshotInterval-1 events regardless of
// stream age.
const SnapshotInterval = 100

// Engine is the generic command-to-event pipeline shared by every feature
// module. It loads state by replay, validates commands, appends the
// derived events with an optimistic concurrency check and hands them to
// the event publisher, all within one transaction.
type Engine[S domain.State] struct {
	aggregateType domain.AggregateType
	newState      func() S
	registry      domain.EventRegistry
	store         domain.EventStore
	publisher     domain.EventPublisher
	tx            persistence.TransactionManager
	log           *zap.Logger
}

func NewEngine[S domain.State](
	aggregateType domain.AggregateType,
	newState func() S,
	registry domain.EventRegistry,
	store domain.EventStore,
	publisher domain.EventPublisher,
	tx persistence.TransactionManager,
	log *zap.Logger,
) *Engine[S] {
	return &Engine[S]{
		aggregateType: aggregateType,
		newState:      newState,
		registry:      registry,
		store:         store,
		publisher:     publisher,
		tx:            tx,
		log:           log,
	}
}

// DispatchCommandToLatest applies the command to the latest state of the
// aggregate, without a version precondition. Used when the caller cannot
// know the expected version, e.g. on creation.
func (e *Engine[S]) DispatchCommandToLatest(
	ctx context.Context,
	id domain.AggregateID,
	agent domain.Agent,
	cmd domain.Command,
) (domain.Version, error) {
	state, version, found, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return e.dispatch(ctx, id, state, version, found, agent, cmd)
}

// DispatchCommand applies the command to the aggregate, asserting first
// that the loaded state is at the expected version. This is the
// optimistic-concurrency gate exposed to callers: on
// ErrAggregateVersionOutdated they must reload and retry.
func (e *Engine[S]) DispatchCommand(
	ctx context.Context,
	id domain.AggregateID,
	expectedVersion domain.Version,
	agent domain.Agent,
	cmd domain.Command,
) (domain.Version, error) {
	state, version, found, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.ErrAggregateNotFound
	}
	if version != expectedVersion {
		return 0, fmt.Errorf("expected version %d but aggregate is at %d: %w",
			expectedVersion, version, domain.ErrAggregateVersionOutdated)
	}
	return e.dispatch(ctx, id, state, version, found, agent, cmd)
}

// Get returns the current folded state and version of the aggregate, or
// ErrAggregateNotFound when it has no events or is logically removed.
func (e *Engine[S]) Get(ctx context.Context, id domain.AggregateID) (S, domain.Version, error) {
	state, version, found, err := e.load(ctx, id)
	if err != nil {
		return state, 0, err
	}
	if !found || state.Removed() {
		return state, 0, domain.ErrAggregateNotFound
	}
	return state, version, nil
}

// GetAt returns the state of the aggregate as of the given version,
// replaying from the nearest snapshot at or below it. Historical view;
// the removed predicate is not applied.
func (e *Engine[S]) GetAt(ctx context.Context, id domain.AggregateID, at domain.Version) (S, domain.Version, error) {
	state := e.newState()
	from := domain.InitialVersion
	var version domain.Version
	found := false

	snapshot, err := e.store.FindNearestSnapshotAtOrBelow(ctx, id, e.aggregateType, at)
	if err != nil {
		return state, 0, err
	}
	if snapshot != nil {
		if err := state.RestoreSnapshot(snapshot.Payload, snapshot.Metadata); err != nil {
			return state, 0, err
		}
		version = snapshot.Metadata.AggregateVersion
		from = version.Next()
		found = true
	}

	events, err := e.store.FindEventsBetween(ctx, id, e.aggregateType, from, at)
	if err != nil {
		return state, 0, err
	}
	last, err := e.fold(state, events)
	if err != nil {
		return state, 0, err
	}
	if len(events) > 0 {
		version = last
		found = true
	}
	if !found {
		return state, 0, domain.ErrAggregateNotFound
	}
	return state, version, nil
}

// CollapseEvents replaces the aggregate's history with a single anonymized
// snapshot: the snapshot is appended at the next version and every prior
// event is removed, in one transaction. The stream ends up with exactly
// one event; personal data is gone while "something happened" remains
// auditable. The expected version is the same optimistic gate as in
// DispatchCommand.
func (e *Engine[S]) CollapseEvents(
	ctx context.Context,
	id domain.AggregateID,
	expectedVersion domain.Version,
	agent domain.Agent,
) (domain.Version, error) {
	state, version, found, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.ErrAggregateNotFound
	}
	if version != expectedVersion {
		return 0, fmt.Errorf("expected version %d but aggregate is at %d: %w",
			expectedVersion, version, domain.ErrAggregateVersionOutdated)
	}

	snapshot := domain.StoredEvent{
		Name:          domain.SnapshotEventName,
		SchemaVersion: 1,
		Payload:       state.AnonymizedSnapshot(),
		Metadata: domain.EventMetadata{
			AggregateID:      id,
			AggregateType:    e.aggregateType,
			AggregateVersion: version.Next(),
			Agent:            agent,
			OccurredAt:       time.Now(),
			IsSnapshot:       true,
		},
	}

	err = e.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := e.store.Append(txCtx, snapshot); err != nil {
			return err
		}
		return e.store.RemoveEventsUpTo(txCtx, id, e.aggregateType, version)
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("collapsed aggregate history",
		zap.String("aggregateType", string(e.aggregateType)),
		zap.String("aggregateId", string(id)),
		zap.Int64("version", snapshot.Metadata.AggregateVersion.Int64()))
	return snapshot.Metadata.AggregateVersion, nil
}

func (e *Engine[S]) dispatch(
	ctx context.Context,
	id domain.AggregateID,
	state S,
	version domain.Version,
	found bool,
	agent domain.Agent,
	cmd domain.Command,
) (domain.Version, error) {
	events, err := state.HandleCommand(cmd, agent)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return version, nil
	}

	next := domain.InitialVersion
	if found {
		next = version.Next()
	}
	now := time.Now()

	stored := make([]domain.StoredEvent, 0, len(events))
	for i, event := range events {
		metadata := domain.EventMetadata{
			AggregateID:      id,
			AggregateType:    e.aggregateType,
			AggregateVersion: next + domain.Version(i),
			Agent:            agent,
			OccurredAt:       now,
		}
		payload, err := event.ToPayload()
		if err != nil {
			return 0, err
		}
		if err := state.ApplyEvent(event, metadata); err != nil {
			return 0, err
		}
		stored = append(stored, domain.StoredEvent{
			Name:          event.EventName(),
			SchemaVersion: event.EventSchemaVersion(),
			Payload:       payload,
			Metadata:      metadata,
		})
	}

	// The callback must not capture mutable state: transaction managers
	// may roll back and re-invoke it on transient failures, so everything
	// it appends is derived from values fixed before the transaction.
	base := stored[len(stored)-1].Metadata.AggregateVersion
	newVersion := base
	var snapshot *domain.StoredEvent
	if base.Next()%SnapshotInterval == 0 {
		snapshot = &domain.StoredEvent{
			Name:          domain.SnapshotEventName,
			SchemaVersion: 1,
			Payload:       state.Snapshot(),
			Metadata: domain.EventMetadata{
				AggregateID:      id,
				AggregateType:    e.aggregateType,
				AggregateVersion: base.Next(),
				Agent:            agent,
				OccurredAt:       now,
				IsSnapshot:       true,
			},
		}
		newVersion = snapshot.Metadata.AggregateVersion
	}

	err = e.tx.InTransaction(ctx, func(txCtx context.Context) error {
		for _, se := range stored {
			if err := e.store.Append(txCtx, se); err != nil {
				return err
			}
		}
		if snapshot != nil {
			if err := e.store.Append(txCtx, *snapshot); err != nil {
				return err
			}
		}
		// Snapshots never leave the store; only business events are shipped.
		return e.publisher.Publish(txCtx, stored)
	})
	if err != nil {
		return 0, err
	}

	e.log.Debug("dispatched command",
		zap.String("aggregateType", string(e.aggregateType)),
		zap.String("aggregateId", string(id)),
		zap.String("command", string(cmd.CommandName())),
		zap.Int("events", len(stored)),
		zap.Int64("version", newVersion.Int64()))
	return newVersion, nil
}

func (e *Engine[S]) load(ctx context.Context, id domain.AggregateID) (S, domain.Version, bool, error) {
	state := e.newState()
	from := domain.InitialVersion
	var version domain.Version
	found := false

	snapshot, err := e.store.FindLatestSnapshot(ctx, id, e.aggregateType)
	if err != nil {
		return state, 0, false, err
	}
	if snapshot != nil {
		if err := state.RestoreSnapshot(snapshot.Payload, snapshot.Metadata); err != nil {
			return state, 0, false, err
		}
		version = snapshot.Metadata.AggregateVersion
		from = version.Next()
		found = true
	}

	events, err := e.store.FindEventsFrom(ctx, id, e.aggregateType, from)
	if err != nil {
		return state, 0, false, err
	}
	last, err := e.fold(state, events)
	if err != nil {
		return state, 0, false, err
	}
	if len(events) > 0 {
		version = last
		found = true
	}
	return state, version, found, nil
}

func (e *Engine[S]) fold(state S, events []domain.StoredEvent) (domain.Version, error) {
	var last domain.Version
	for _, se := range events {
		if se.IsSnapshot() {
			if err := state.RestoreSnapshot(se.Payload, se.Metadata); err != nil {
				return 0, err
			}
		} else {
			event, err := e.registry.Rehydrate(se.Name, se.SchemaVersion, se.Payload)
			if err != nil {
				return 0, err
			}
			if err := state.ApplyEvent(event, se.Metadata); err != nil {
				return 0, err
			}
		}
		last = se.Metadata.AggregateVersion
	}
	return last, nil
}
