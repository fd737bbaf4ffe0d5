package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
)

// Publisher delivers outbox batches to RabbitMQ. Destinations are durable
// topic exchanges declared on first use; every message carries the entry
// ID as stable message id so consumers can deduplicate redeliveries.
// The whole batch fails when any publisher confirm is missing within the
// timeout. A timeout does not prove non-delivery, so this errs on the
// side of re-sending.
type Publisher struct {
	ch             *amqp.Channel
	confirmTimeout time.Duration
	declared       map[string]struct{}
	mu             sync.Mutex
	log            *zap.Logger
}

func NewPublisher(conn *amqp.Connection, confirmTimeout time.Duration, log *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, err
	}
	return &Publisher{
		ch:             ch,
		confirmTimeout: confirmTimeout,
		declared:       make(map[string]struct{}),
		log:            log,
	}, nil
}

func (p *Publisher) PublishBatch(ctx context.Context, entries []domain.Entry) error {
	// Channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	confirmations := make([]*amqp.DeferredConfirmation, 0, len(entries))
	for _, entry := range entries {
		if err := p.declare(entry.Target); err != nil {
			return fmt.Errorf("%w: declaring exchange %q: %s", domain.ErrPublishBatchFailed, entry.Target, err)
		}

		body, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("%w: encoding entry %s: %s", domain.ErrPublishBatchFailed, entry.ID, err)
		}

		confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
			entry.Target, entry.RoutingKey, false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				MessageId:    entry.ID.String(),
				DeliveryMode: amqp.Persistent,
				Timestamp:    entry.CreatedAt,
				Body:         body,
			})
		if err != nil {
			return fmt.Errorf("%w: publishing entry %s: %s", domain.ErrPublishBatchFailed, entry.ID, err)
		}
		confirmations = append(confirmations, confirmation)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	for i, confirmation := range confirmations {
		acked, err := confirmation.WaitContext(waitCtx)
		if err != nil {
			return fmt.Errorf("%w: waiting for confirm of entry %s: %s",
				domain.ErrPublishBatchFailed, entries[i].ID, err)
		}
		if !acked {
			return fmt.Errorf("%w: broker nacked entry %s", domain.ErrPublishBatchFailed, entries[i].ID)
		}
	}

	p.log.Debug("batch confirmed by broker", zap.Int("entries", len(entries)))
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) declare(target string) error {
	if _, ok := p.declared[target]; ok {
		return nil
	}
	if err := p.ch.ExchangeDeclare(target, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[target] = struct{}{}
	return nil
}

var _ domain.BrokerPublisher = (*Publisher)(nil)
