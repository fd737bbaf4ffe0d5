package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	sharedInmemory "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/inmemory"
)

func event(version domain.Version, isSnapshot bool) domain.StoredEvent {
	return domain.StoredEvent{
		Name:          "CREATED",
		SchemaVersion: 1,
		Payload:       domain.Document{"v": version.Int64()},
		Metadata: domain.EventMetadata{
			AggregateID:      "agg-1",
			AggregateType:    "TEST",
			AggregateVersion: version,
			Agent:            domain.SystemAgent(),
			OccurredAt:       time.Now(),
			IsSnapshot:       isSnapshot,
		},
	}
}

func TestEventStore_AppendEnforcesGaplessVersions(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, event(0, false)))
	require.NoError(t, store.Append(ctx, event(1, false)))

	// Re-appending an occupied version conflicts.
	assert.ErrorIs(t, store.Append(ctx, event(1, false)), domain.ErrVersionConflict)

	// Skipping a version conflicts too.
	assert.ErrorIs(t, store.Append(ctx, event(3, false)), domain.ErrVersionConflict)

	assert.Len(t, store.Events("agg-1", "TEST"), 2)
}

func TestEventStore_RolledBackAppendLeavesNothing(t *testing.T) {
	store := NewEventStore()

	tx := sharedInmemory.NewTransactionManager()
	err := tx.InTransaction(context.Background(), func(txCtx context.Context) error {
		if err := store.Append(txCtx, event(0, false)); err != nil {
			return err
		}
		return errors.New("business failure")
	})
	require.Error(t, err)
	assert.Empty(t, store.Events("agg-1", "TEST"))
}

func TestEventStore_FindLatestSnapshot(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, event(0, false)))
	require.NoError(t, store.Append(ctx, event(1, true)))
	require.NoError(t, store.Append(ctx, event(2, false)))
	require.NoError(t, store.Append(ctx, event(3, true)))

	snapshot, err := store.FindLatestSnapshot(ctx, "agg-1", "TEST")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, domain.Version(3), snapshot.Metadata.AggregateVersion)

	nearest, err := store.FindNearestSnapshotAtOrBelow(ctx, "agg-1", "TEST", 2)
	require.NoError(t, err)
	require.NotNil(t, nearest)
	assert.Equal(t, domain.Version(1), nearest.Metadata.AggregateVersion)
}

func TestEventStore_RemoveEventsUpTo(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	for v := domain.Version(0); v <= 3; v = v.Next() {
		require.NoError(t, store.Append(ctx, event(v, false)))
	}

	require.NoError(t, store.RemoveEventsUpTo(ctx, "agg-1", "TEST", 2))

	events := store.Events("agg-1", "TEST")
	require.Len(t, events, 1)
	assert.Equal(t, domain.Version(3), events[0].Metadata.AggregateVersion)
}

func TestEventStore_RemoveEventsUpToRollsBack(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	for v := domain.Version(0); v <= 2; v = v.Next() {
		require.NoError(t, store.Append(ctx, event(v, false)))
	}

	tx := sharedInmemory.NewTransactionManager()
	err := tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := store.RemoveEventsUpTo(txCtx, "agg-1", "TEST", 1); err != nil {
			return err
		}
		return errors.New("collapse aborted")
	})
	require.Error(t, err)
	assert.Len(t, store.Events("agg-1", "TEST"), 3)
}
