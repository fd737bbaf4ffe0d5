package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

func metadata(version es.Version) es.EventMetadata {
	return es.EventMetadata{
		AggregateID:      "color-1",
		AggregateType:    AggregateType,
		AggregateVersion: version,
		Agent:            es.SystemAgent(),
		OccurredAt:       time.Now(),
	}
}

func createdColor(t *testing.T) *Color {
	t.Helper()
	color := NewColor()
	require.NoError(t, color.ApplyEvent(CreatedEvent{Name: "Crab Red", Red: 220, Green: 40, Blue: 30}, metadata(0)))
	return color
}

func TestColor_Create(t *testing.T) {
	color := NewColor()

	events, err := color.HandleCommand(CreateCmd{Name: "Crab Red", Red: 220, Green: 40, Blue: 30}, es.SystemAgent())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].EventName())

	require.NoError(t, color.ApplyEvent(events[0], metadata(0)))
	assert.Equal(t, "Crab Red", color.Name)
	assert.Equal(t, int64(220), color.Red)
	assert.False(t, color.CreatedAt.IsZero())
	assert.False(t, color.Removed())
}

func TestColor_CreateValidation(t *testing.T) {
	tests := []struct {
		name     string
		cmd      CreateCmd
		expected error
	}{
		{
			name:     "empty name",
			cmd:      CreateCmd{Name: "", Red: 10, Green: 10, Blue: 10},
			expected: ErrNameMissing,
		},
		{
			name:     "component below range",
			cmd:      CreateCmd{Name: "x", Red: -1, Green: 10, Blue: 10},
			expected: ErrComponentRange,
		},
		{
			name:     "component above range",
			cmd:      CreateCmd{Name: "x", Red: 10, Green: 256, Blue: 10},
			expected: ErrComponentRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewColor().HandleCommand(tt.cmd, es.SystemAgent())
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestColor_CreateTwiceFails(t *testing.T) {
	color := createdColor(t)

	_, err := color.HandleCommand(CreateCmd{Name: "Again", Red: 1, Green: 2, Blue: 3}, es.SystemAgent())
	assert.ErrorIs(t, err, ErrAlreadyCreated)
}

func TestColor_Update(t *testing.T) {
	color := createdColor(t)

	events, err := color.HandleCommand(UpdateCmd{Name: "Crab Crimson", Red: 200, Green: 30, Blue: 40}, es.SystemAgent())
	require.NoError(t, err)
	require.NoError(t, color.ApplyEvent(events[0], metadata(1)))
	assert.Equal(t, "Crab Crimson", color.Name)
	assert.Equal(t, int64(40), color.Blue)
}

func TestColor_UpdateBeforeCreateFails(t *testing.T) {
	_, err := NewColor().HandleCommand(UpdateCmd{Name: "x", Red: 1, Green: 2, Blue: 3}, es.SystemAgent())
	assert.ErrorIs(t, err, ErrNotCreated)
}

func TestColor_Delete(t *testing.T) {
	color := createdColor(t)

	events, err := color.HandleCommand(DeleteCmd{}, es.SystemAgent())
	require.NoError(t, err)
	require.NoError(t, color.ApplyEvent(events[0], metadata(1)))
	assert.True(t, color.Removed())

	_, err = color.HandleCommand(DeleteCmd{}, es.SystemAgent())
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	_, err = color.HandleCommand(UpdateCmd{Name: "x", Red: 1, Green: 2, Blue: 3}, es.SystemAgent())
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestColor_SnapshotRoundTrip(t *testing.T) {
	color := createdColor(t)
	deleted, err := color.HandleCommand(DeleteCmd{}, es.SystemAgent())
	require.NoError(t, err)
	require.NoError(t, color.ApplyEvent(deleted[0], metadata(1)))

	restored := NewColor()
	require.NoError(t, restored.RestoreSnapshot(color.Snapshot(), metadata(2)))

	assert.Equal(t, color.Name, restored.Name)
	assert.Equal(t, color.Red, restored.Red)
	assert.Equal(t, color.Green, restored.Green)
	assert.Equal(t, color.Blue, restored.Blue)
	assert.True(t, restored.Removed())
}

func TestColor_EventRegistryRoundTrip(t *testing.T) {
	registry := NewEventRegistry()

	original := CreatedEvent{Name: "Crab Red", Red: 220, Green: 40, Blue: 30}
	payload, err := original.ToPayload()
	require.NoError(t, err)

	rehydrated, err := registry.Rehydrate(EventCreated, 1, payload)
	require.NoError(t, err)
	assert.Equal(t, original, rehydrated)
}
