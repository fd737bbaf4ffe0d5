package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/es/infra/outbound/db/inmemory"
	sharedInmemory "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/inmemory"
)

// ---------------- Test aggregate ----------------

const noteAggregateType domain.AggregateType = "NOTE"

const (
	noteAdded   domain.EventName = "ADDED"
	noteEdited  domain.EventName = "EDITED"
	noteRemoved domain.EventName = "REMOVED"
)

type addedEvent struct{ Text string }

func (e addedEvent) EventName() domain.EventName { return noteAdded }
func (e addedEvent) EventSchemaVersion() int     { return 1 }
func (e addedEvent) ToPayload() (domain.Document, error) {
	return domain.Document{"text": e.Text}, nil
}

type editedEvent struct{ Text string }

func (e editedEvent) EventName() domain.EventName { return noteEdited }
func (e editedEvent) EventSchemaVersion() int     { return 1 }
func (e editedEvent) ToPayload() (domain.Document, error) {
	return domain.Document{"text": e.Text}, nil
}

type removedEvent struct{}

func (e removedEvent) EventName() domain.EventName { return noteRemoved }
func (e removedEvent) EventSchemaVersion() int     { return 1 }
func (e removedEvent) ToPayload() (domain.Document, error) {
	return domain.Document{}, nil
}

type addCmd struct{ Text string }

func (c addCmd) CommandName() domain.CommandName { return "ADD" }

type editCmd struct{ Text string }

func (c editCmd) CommandName() domain.CommandName { return "EDIT" }

type removeCmd struct{}

func (c removeCmd) CommandName() domain.CommandName { return "REMOVE" }

type note struct {
	Text      string
	CreatedAt time.Time
	RemovedAt *time.Time
	Redacted  bool
}

func newNote() *note { return &note{} }

func (n *note) HandleCommand(cmd domain.Command, agent domain.Agent) ([]domain.Event, error) {
	switch cmd := cmd.(type) {
	case addCmd:
		return []domain.Event{addedEvent{Text: cmd.Text}}, nil
	case editCmd:
		return []domain.Event{editedEvent{Text: cmd.Text}}, nil
	case removeCmd:
		return []domain.Event{removedEvent{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd.CommandName())
	}
}

func (n *note) ApplyEvent(event domain.Event, metadata domain.EventMetadata) error {
	switch event := event.(type) {
	case addedEvent:
		n.Text = event.Text
		n.CreatedAt = metadata.OccurredAt
	case editedEvent:
		n.Text = event.Text
	case removedEvent:
		removedAt := metadata.OccurredAt
		n.RemovedAt = &removedAt
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownEvent, event.EventName())
	}
	return nil
}

func (n *note) Snapshot() domain.Document {
	snapshot := domain.Document{
		"text":      n.Text,
		"createdAt": n.CreatedAt,
		"redacted":  n.Redacted,
	}
	if n.RemovedAt != nil {
		snapshot["removedAt"] = *n.RemovedAt
	}
	return snapshot
}

func (n *note) RestoreSnapshot(payload domain.Document, metadata domain.EventMetadata) error {
	n.Text = payload.String("text")
	n.CreatedAt = payload.Time("createdAt")
	n.Redacted = payload.Bool("redacted")
	n.RemovedAt = nil
	if payload.Has("removedAt") {
		removedAt := payload.Time("removedAt")
		n.RemovedAt = &removedAt
	}
	return nil
}

func (n *note) AnonymizedSnapshot() domain.Document {
	snapshot := n.Snapshot()
	snapshot["text"] = "REDACTED"
	snapshot["redacted"] = true
	return snapshot
}

func (n *note) Removed() bool {
	return n.RemovedAt != nil || n.Redacted
}

func noteRegistry() domain.EventRegistry {
	return domain.EventRegistry{
		noteAdded: func(schemaVersion int, payload domain.Document) (domain.Event, error) {
			return addedEvent{Text: payload.String("text")}, nil
		},
		noteEdited: func(schemaVersion int, payload domain.Document) (domain.Event, error) {
			return editedEvent{Text: payload.String("text")}, nil
		},
		noteRemoved: func(schemaVersion int, payload domain.Document) (domain.Event, error) {
			return removedEvent{}, nil
		},
	}
}

// ---------------- Test doubles ----------------

type recordingPublisher struct {
	events []domain.StoredEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, events []domain.StoredEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

// retryingTxManager undoes every successfully applied callback once and
// invokes it again, mimicking session-based managers that retry the whole
// callback on transient transaction errors.
type retryingTxManager struct {
	inner *sharedInmemory.TransactionManager
}

var errTransientTx = errors.New("transient transaction error")

func (m *retryingTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := sharedInmemory.TxFromContext(ctx); ok {
		return fn(ctx)
	}
	err := m.inner.InTransaction(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		return errTransientTx
	})
	if err != nil && !errors.Is(err, errTransientTx) {
		return err
	}
	return m.inner.InTransaction(ctx, fn)
}

func newTestEngine(t *testing.T) (*Engine[*note], *inmemory.EventStore, *recordingPublisher) {
	t.Helper()
	store := inmemory.NewEventStore()
	publisher := &recordingPublisher{}
	engine := NewEngine(noteAggregateType, newNote, noteRegistry(),
		store, publisher, sharedInmemory.NewTransactionManager(), zap.NewNop())
	return engine, store, publisher
}

// ---------------- Tests ----------------

func TestEngine_CreateAndGet(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")

	version, err := engine.DispatchCommandToLatest(ctx, id, domain.SystemAgent(), addCmd{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.InitialVersion, version)

	state, version, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", state.Text)
	assert.Equal(t, domain.InitialVersion, version)
	assert.False(t, state.CreatedAt.IsZero())
}

func TestEngine_GetMissingAggregate(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, _, err := engine.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestEngine_DispatchToMissingAggregate(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.DispatchCommand(context.Background(), "missing", 0, domain.SystemAgent(), editCmd{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestEngine_OptimisticConcurrency(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "v0"})
	require.NoError(t, err)

	// First writer wins.
	_, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "first"})
	require.NoError(t, err)

	// Second writer still holds the old version and must be rejected.
	_, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "second"})
	assert.ErrorIs(t, err, domain.ErrAggregateVersionOutdated)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	state, _, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first", state.Text)
}

func TestEngine_SnapshotCadence(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "edit 0"})
	require.NoError(t, err)

	for i := 1; i <= 200; i++ {
		version, err = engine.DispatchCommand(ctx, id, version, agent,
			editCmd{Text: fmt.Sprintf("edit %d", i)})
		require.NoError(t, err)
	}

	// 201 business events plus snapshots at 100 and 200.
	assert.Equal(t, domain.Version(202), version)

	var snapshotVersions []int64
	events := store.Events(id, noteAggregateType)
	for _, event := range events {
		if event.IsSnapshot() {
			snapshotVersions = append(snapshotVersions, event.Metadata.AggregateVersion.Int64())
		}
	}
	assert.Equal(t, []int64{100, 200}, snapshotVersions)
	assert.Len(t, events, 203)

	// Snapshots never reach the publisher.
	assert.Len(t, publisher.events, 201)
	for _, event := range publisher.events {
		assert.False(t, event.IsSnapshot())
	}

	state, current, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "edit 200", state.Text)
	assert.Equal(t, domain.Version(202), current)
}

func TestEngine_SnapshotCadenceSurvivesTransactionRetries(t *testing.T) {
	store := inmemory.NewEventStore()
	publisher := &recordingPublisher{}
	engine := NewEngine(noteAggregateType, newNote, noteRegistry(),
		store, publisher, &retryingTxManager{inner: sharedInmemory.NewTransactionManager()}, zap.NewNop())
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	// Every commit is rolled back and replayed once, including the one
	// crossing the snapshot boundary at version 99.
	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "edit 0"})
	require.NoError(t, err)
	for i := 1; i <= 99; i++ {
		version, err = engine.DispatchCommand(ctx, id, version, agent,
			editCmd{Text: fmt.Sprintf("edit %d", i)})
		require.NoError(t, err)
	}

	assert.Equal(t, domain.Version(100), version)

	var snapshotVersions []int64
	events := store.Events(id, noteAggregateType)
	for _, event := range events {
		if event.IsSnapshot() {
			snapshotVersions = append(snapshotVersions, event.Metadata.AggregateVersion.Int64())
		}
	}
	assert.Equal(t, []int64{100}, snapshotVersions)
	assert.Len(t, events, 101)

	// The returned version stays a valid expected version.
	version, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "after"})
	require.NoError(t, err)
	assert.Equal(t, domain.Version(101), version)

	state, current, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", state.Text)
	assert.Equal(t, domain.Version(101), current)
}

func TestEngine_GetAtReturnsHistoricalState(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "original"})
	require.NoError(t, err)
	version, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "revised"})
	require.NoError(t, err)
	_, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "final"})
	require.NoError(t, err)

	state, at, err := engine.GetAt(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "original", state.Text)
	assert.Equal(t, domain.Version(0), at)

	state, at, err = engine.GetAt(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, "revised", state.Text)
	assert.Equal(t, domain.Version(1), at)
}

func TestEngine_GetHidesRemovedAggregate(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "hello"})
	require.NoError(t, err)
	_, err = engine.DispatchCommand(ctx, id, version, agent, removeCmd{})
	require.NoError(t, err)

	_, _, err = engine.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)

	// The historical view still works.
	state, _, err := engine.GetAt(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", state.Text)
}

func TestEngine_CollapseEvents(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "personal data"})
	require.NoError(t, err)
	version, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "more personal data"})
	require.NoError(t, err)
	version, err = engine.DispatchCommand(ctx, id, version, agent, removeCmd{})
	require.NoError(t, err)

	collapsed, err := engine.CollapseEvents(ctx, id, version, agent)
	require.NoError(t, err)
	assert.Equal(t, version.Next(), collapsed)

	// The whole history is gone; one anonymized snapshot remains.
	events := store.Events(id, noteAggregateType)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsSnapshot())
	assert.Equal(t, collapsed, events[0].Metadata.AggregateVersion)
	assert.Equal(t, "REDACTED", events[0].Payload.String("text"))
	assert.True(t, events[0].Payload.Bool("redacted"))

	_, _, err = engine.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestEngine_CollapseEventsWithOutdatedVersion(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "hello"})
	require.NoError(t, err)
	_, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: "revised"})
	require.NoError(t, err)

	_, err = engine.CollapseEvents(ctx, id, version, agent)
	assert.ErrorIs(t, err, domain.ErrAggregateVersionOutdated)
	assert.Len(t, store.Events(id, noteAggregateType), 2)
}

func TestEngine_PublishFailureRollsBackAppend(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	publisher.err = errors.New("broker down")

	_, err := engine.DispatchCommandToLatest(ctx, id, domain.SystemAgent(), addCmd{Text: "hello"})
	require.Error(t, err)

	// The append happened inside the same transaction and must be undone.
	assert.Empty(t, store.Events(id, noteAggregateType))
	_, _, err = engine.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestEngine_UnknownEventInStream(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")

	err := store.Append(ctx, domain.StoredEvent{
		Name:          "VANISHED",
		SchemaVersion: 1,
		Payload:       domain.Document{},
		Metadata: domain.EventMetadata{
			AggregateID:      id,
			AggregateType:    noteAggregateType,
			AggregateVersion: domain.InitialVersion,
			Agent:            domain.SystemAgent(),
			OccurredAt:       time.Now(),
		},
	})
	require.NoError(t, err)

	_, _, err = engine.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}

func TestEngine_ReplayEqualsLiveState(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := domain.AggregateID("note-1")
	agent := domain.SystemAgent()

	version, err := engine.DispatchCommandToLatest(ctx, id, agent, addCmd{Text: "a"})
	require.NoError(t, err)
	for _, text := range []string{"b", "c", "d"} {
		version, err = engine.DispatchCommand(ctx, id, version, agent, editCmd{Text: text})
		require.NoError(t, err)
	}

	// A fresh engine over the same store folds to the identical state.
	replayed, replayedVersion, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "d", replayed.Text)
	assert.Equal(t, version, replayedVersion)
}
