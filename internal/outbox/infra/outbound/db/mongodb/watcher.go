package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/application"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/utils"
)

// InsertWatcher tails the outbox collection's change stream and drains
// per insert notification. This is the low-latency delivery path; the
// scheduler remains the safety net when the stream is down.
type InsertWatcher struct {
	coll   *mongo.Collection
	outbox *application.Outbox
	log    *zap.Logger
}

func NewInsertWatcher(coll *mongo.Collection, outbox *application.Outbox, log *zap.Logger) *InsertWatcher {
	return &InsertWatcher{coll: coll, outbox: outbox, log: log}
}

// Run watches until the context is cancelled, re-subscribing with capped
// exponential backoff when the stream fails.
func (w *InsertWatcher) Run(ctx context.Context) {
	backoff := utils.Backoff{Base: time.Second, Max: time.Minute}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}

	for {
		stream, err := w.coll.Watch(ctx, pipeline)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			w.log.Warn("subscribing to outbox change stream failed", zap.Error(err))
			if backoff.Sleep(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()
		w.log.Info("watching outbox inserts")

		for stream.Next(ctx) {
			if err := w.outbox.Drain(ctx); err != nil {
				w.log.Warn("draining outbox after insert failed", zap.Error(err))
			}
		}
		streamErr := stream.Err()
		stream.Close(context.Background())

		if ctx.Err() != nil {
			return
		}
		if streamErr != nil {
			w.log.Warn("outbox change stream broke", zap.Error(streamErr))
		}
		if backoff.Sleep(ctx) != nil {
			return
		}
	}
}
