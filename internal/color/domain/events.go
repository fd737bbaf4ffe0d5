package domain

import (
	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

// AggregateType keys the color event streams.
const AggregateType es.AggregateType = "COLOR"

const (
	EventCreated es.EventName = "CREATED"
	EventUpdated es.EventName = "UPDATED"
	EventDeleted es.EventName = "DELETED"
)

// CreatedEvent records the initial name and RGB components of a color.
type CreatedEvent struct {
	Name  string
	Red   int64
	Green int64
	Blue  int64
}

func (e CreatedEvent) EventName() es.EventName { return EventCreated }

func (e CreatedEvent) EventSchemaVersion() int { return 1 }

func (e CreatedEvent) ToPayload() (es.Document, error) {
	return es.Document{
		"name":  e.Name,
		"red":   e.Red,
		"green": e.Green,
		"blue":  e.Blue,
	}, nil
}

// UpdatedEvent replaces the name and RGB components of a color.
type UpdatedEvent struct {
	Name  string
	Red   int64
	Green int64
	Blue  int64
}

func (e UpdatedEvent) EventName() es.EventName { return EventUpdated }

func (e UpdatedEvent) EventSchemaVersion() int { return 1 }

func (e UpdatedEvent) ToPayload() (es.Document, error) {
	return es.Document{
		"name":  e.Name,
		"red":   e.Red,
		"green": e.Green,
		"blue":  e.Blue,
	}, nil
}

// DeletedEvent marks a color as deleted. It carries no payload.
type DeletedEvent struct{}

func (e DeletedEvent) EventName() es.EventName { return EventDeleted }

func (e DeletedEvent) EventSchemaVersion() int { return 1 }

func (e DeletedEvent) ToPayload() (es.Document, error) {
	return es.Document{}, nil
}

// NewEventRegistry returns the factories for all color events.
func NewEventRegistry() es.EventRegistry {
	return es.EventRegistry{
		EventCreated: func(schemaVersion int, payload es.Document) (es.Event, error) {
			return CreatedEvent{
				Name:  payload.String("name"),
				Red:   payload.Int64("red"),
				Green: payload.Int64("green"),
				Blue:  payload.Int64("blue"),
			}, nil
		},
		EventUpdated: func(schemaVersion int, payload es.Document) (es.Event, error) {
			return UpdatedEvent{
				Name:  payload.String("name"),
				Red:   payload.Int64("red"),
				Green: payload.Int64("green"),
				Blue:  payload.Int64("blue"),
			}, nil
		},
		EventDeleted: func(schemaVersion int, payload es.Document) (es.Event, error) {
			return DeletedEvent{}, nil
		},
	}
}
