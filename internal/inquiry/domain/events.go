package domain

import (
	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

// AggregateType keys the inquiry event streams.
const AggregateType es.AggregateType = "INQUIRY"

const (
	EventSent    es.EventName = "SENT"
	EventDeleted es.EventName = "DELETED"
)

// SentEvent records a newly received inquiry.
type SentEvent struct {
	Mail    string
	Subject string
	Message string
}

func (e SentEvent) EventName() es.EventName { return EventSent }

func (e SentEvent) EventSchemaVersion() int { return 1 }

func (e SentEvent) ToPayload() (es.Document, error) {
	return es.Document{
		"mail":    e.Mail,
		"subject": e.Subject,
		"message": e.Message,
	}, nil
}

// DeletedEvent marks an inquiry as deleted.
type DeletedEvent struct{}

func (e DeletedEvent) EventName() es.EventName { return EventDeleted }

func (e DeletedEvent) EventSchemaVersion() int { return 1 }

func (e DeletedEvent) ToPayload() (es.Document, error) {
	return es.Document{}, nil
}

// NewEventRegistry returns the factories for all inquiry events.
func NewEventRegistry() es.EventRegistry {
	return es.EventRegistry{
		EventSent: func(schemaVersion int, payload es.Document) (es.Event, error) {
			return SentEvent{
				Mail:    payload.String("mail"),
				Subject: payload.String("subject"),
				Message: payload.String("message"),
			}, nil
		},
		EventDeleted: func(schemaVersion int, payload es.Document) (es.Event, error) {
			return DeletedEvent{}, nil
		},
	}
}
