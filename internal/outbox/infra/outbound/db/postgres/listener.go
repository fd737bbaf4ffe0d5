package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/application"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/utils"
)

// InsertListener LISTENs for the outbox insert notifications raised by
// the schema trigger and drains per notification. Low-latency path; the
// scheduler remains the safety net.
type InsertListener struct {
	pool   *pgxpool.Pool
	outbox *application.Outbox
	log    *zap.Logger
}

func NewInsertListener(pool *pgxpool.Pool, outbox *application.Outbox, log *zap.Logger) *InsertListener {
	return &InsertListener{pool: pool, outbox: outbox, log: log}
}

// Run listens until the context is cancelled, reconnecting with capped
// exponential backoff.
func (l *InsertListener) Run(ctx context.Context) {
	backoff := utils.Backoff{Base: time.Second, Max: time.Minute}

	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("outbox insert listener broke", zap.Error(err))
		}
		if backoff.Sleep(ctx) != nil {
			return
		}
	}
}

func (l *InsertListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN outbox_inserted"); err != nil {
		return err
	}
	l.log.Info("listening for outbox inserts")

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		if err := l.outbox.Drain(ctx); err != nil {
			l.log.Warn("draining outbox after insert failed", zap.Error(err))
		}
	}
}
