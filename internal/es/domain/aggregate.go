package domain

// State is the folded state of one aggregate instance. It is never stored
// as such; only the event stream is durable. Implementations are plain
// structs that mutate themselves when events are applied.
type State interface {
	// ApplyEvent folds one event into the state.
	ApplyEvent(event Event, metadata EventMetadata) error

	// HandleCommand validates the command against the current state and
	// derives the events to append. It must not mutate the state.
	HandleCommand(cmd Command, agent Agent) ([]Event, error)

	// Snapshot returns the entire state as a document, excluding fields
	// that are recomputed from event metadata on restore.
	Snapshot() Document

	// RestoreSnapshot resets the state from a snapshot payload.
	RestoreSnapshot(payload Document, metadata EventMetadata) error

	// AnonymizedSnapshot returns the snapshot with all personally
	// identifying fields replaced by fixed placeholders. Used by history
	// collapsing; the result must satisfy Removed when the aggregate is
	// meant to be terminal afterwards.
	AnonymizedSnapshot() Document

	// Removed reports whether the aggregate is logically gone.
	Removed() bool
}
