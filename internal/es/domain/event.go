package domain

import "time"

// SnapshotEventName is the reserved name of the synthetic event that
// carries the full aggregate state. A snapshot is self-sufficient: replay
// may start from it without any earlier event.
const SnapshotEventName EventName = "SNAPSHOTTED"

// Event is a typed domain event. Implementations form a closed set per
// aggregate type and are dispatched over with a type switch.
type Event interface {
	// EventName names the event within its aggregate type.
	EventName() EventName

	// EventSchemaVersion versions the payload layout, independent of the
	// aggregate version.
	EventSchemaVersion() int

	// ToPayload serializes the event to its generic document form.
	ToPayload() (Document, error)
}

// Command is a typed command. Like events, commands form a closed set per
// aggregate type.
type Command interface {
	CommandName() CommandName
}

// EventMetadata locates an event within its stream and records who caused
// it and when.
type EventMetadata struct {
	AggregateID      AggregateID
	AggregateType    AggregateType
	AggregateVersion Version
	Agent            Agent
	OccurredAt       time.Time
	IsSnapshot       bool
}

// StoredEvent is the wire and persisted form of an event: name, payload
// schema version, generic payload and metadata.
type StoredEvent struct {
	Name          EventName
	SchemaVersion int
	Payload       Document
	Metadata      EventMetadata
}

// IsSnapshot reports whether the stored event is a snapshot.
func (e StoredEvent) IsSnapshot() bool {
	return e.Metadata.IsSnapshot
}
