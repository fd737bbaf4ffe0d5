package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
)

// Publisher delivers outbox batches to Kafka topics. Acknowledgment from
// all in-sync replicas stands in for publisher confirms; the routing key
// doubles as partition key so one aggregate's messages stay ordered.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewPublisher(brokers []string, log *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: writer, log: log}
}

func (p *Publisher) PublishBatch(ctx context.Context, entries []domain.Entry) error {
	messages := make([]kafka.Message, 0, len(entries))
	for _, entry := range entries {
		body, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("%w: encoding entry %s: %s", domain.ErrPublishBatchFailed, entry.ID, err)
		}
		messages = append(messages, kafka.Message{
			Topic: entry.Target,
			Key:   []byte(entry.RoutingKey),
			Value: body,
			Headers: []kafka.Header{
				{Key: "message-id", Value: []byte(entry.ID.String())},
				{Key: "content-type", Value: []byte("application/json")},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrPublishBatchFailed, err)
	}
	p.log.Debug("batch written to kafka", zap.Int("entries", len(entries)))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ domain.BrokerPublisher = (*Publisher)(nil)
