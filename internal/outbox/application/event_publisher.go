package application

import (
	"context"
	"strings"

	esDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
)

// EventPublisher bridges the aggregate engine to the outbox: every
// committed business event becomes an outbox entry within the same
// transaction as the event append.
type EventPublisher struct {
	outbox *Outbox
}

func NewEventPublisher(outbox *Outbox) *EventPublisher {
	return &EventPublisher{outbox: outbox}
}

func (p *EventPublisher) Publish(ctx context.Context, events []esDomain.StoredEvent) error {
	entries := make([]domain.Entry, 0, len(events))
	for _, event := range events {
		if event.IsSnapshot() {
			continue
		}
		entries = append(entries, toEntry(event))
	}
	if len(entries) == 0 {
		return nil
	}
	return p.outbox.Insert(ctx, entries...)
}

// toEntry derives destination and routing from the event: messages for a
// Color CREATED event go to target "color" with routing key
// "color.created".
func toEntry(event esDomain.StoredEvent) domain.Entry {
	target := strings.ToLower(string(event.Metadata.AggregateType))
	routingKey := target + "." + strings.ToLower(string(event.Name))

	payload := esDomain.Document{
		"aggregateId":      string(event.Metadata.AggregateID),
		"aggregateType":    string(event.Metadata.AggregateType),
		"aggregateVersion": event.Metadata.AggregateVersion.Int64(),
		"eventName":        string(event.Name),
		"eventVersion":     event.SchemaVersion,
		"agentType":        string(event.Metadata.Agent.Type),
		"agentId":          event.Metadata.Agent.ID,
		"occurredAt":       event.Metadata.OccurredAt,
		"payload":          event.Payload,
	}
	return domain.NewEntry(target, routingKey, payload)
}

var _ esDomain.EventPublisher = (*EventPublisher)(nil)
