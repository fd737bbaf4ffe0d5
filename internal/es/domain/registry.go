package domain

import "fmt"

// EventFactory rehydrates a typed event from its persisted payload.
type EventFactory func(schemaVersion int, payload Document) (Event, error)

// EventRegistry maps event names to factories. Each aggregate type brings
// its own registry; factories are explicit so payload layouts are part of
// the type, not discovered via reflection.
type EventRegistry map[EventName]EventFactory

// Rehydrate turns a stored event back into its typed form. Snapshot events
// never pass through the registry.
func (r EventRegistry) Rehydrate(name EventName, schemaVersion int, payload Document) (Event, error) {
	factory, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return factory(schemaVersion, payload)
}
