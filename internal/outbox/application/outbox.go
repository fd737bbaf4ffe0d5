package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
)

// Operational policy. Failed entries are an operator-visible signal and
// are never purged automatically.
const (
	StaleFailureAge       = 30 * time.Minute
	StaleLockAge          = 5 * time.Minute
	AcknowledgedRetention = 30 * 24 * time.Hour

	insertDrainTimeout = 30 * time.Second
)

// Outbox orchestrates the staged-message lifecycle: claim a batch under a
// fresh lock token, hand it to the broker publisher and resolve it to
// acknowledged or released/failed.
type Outbox struct {
	store     domain.Store
	publisher domain.BrokerPublisher
	batchSize int
	log       *zap.Logger
}

func New(store domain.Store, publisher domain.BrokerPublisher, batchSize int, log *zap.Logger) *Outbox {
	return &Outbox{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		log:       log,
	}
}

// Insert persists the entries within the caller's transaction and kicks
// off a best-effort drain once the caller has had a chance to commit.
// The drain is an optimization only; the change feed and the scheduler
// guarantee delivery without it.
func (o *Outbox) Insert(ctx context.Context, entries ...domain.Entry) error {
	if err := o.store.Insert(ctx, entries...); err != nil {
		return err
	}

	go func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), insertDrainTimeout)
		defer cancel()
		if err := o.Drain(drainCtx); err != nil {
			o.log.Debug("post-insert drain failed", zap.Error(err))
		}
	}()
	return nil
}

// Drain claims batches of deliverable entries and publishes them until
// the outbox runs dry or a batch fails. A publish failure releases the
// batch (or marks entries terminally failed) and is never surfaced to any
// business transaction.
func (o *Outbox) Drain(ctx context.Context) error {
	for {
		token := domain.NewLockToken()

		if err := o.store.LockUnlockedBatch(ctx, token, o.batchSize); err != nil {
			return fmt.Errorf("claiming outbox batch: %w", err)
		}

		// Re-read by token: only entries this claim actually won.
		entries, err := o.store.FindLockedEntries(ctx, token)
		if err != nil {
			return fmt.Errorf("reading claimed batch: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		if err := o.publisher.PublishBatch(ctx, entries); err != nil {
			o.log.Warn("publishing outbox batch failed",
				zap.String("lockToken", token.String()),
				zap.Int("entries", len(entries)),
				zap.Error(err))
			if releaseErr := o.store.ReleaseLocked(ctx, token, domain.MaxRetryCount); releaseErr != nil {
				o.log.Error("releasing failed outbox batch",
					zap.String("lockToken", token.String()),
					zap.Error(releaseErr))
			}
			return fmt.Errorf("%w: %s", domain.ErrPublishBatchFailed, err)
		}

		if err := o.store.AcknowledgeLocked(ctx, token); err != nil {
			return fmt.Errorf("acknowledging outbox batch: %w", err)
		}
		o.log.Debug("outbox batch delivered",
			zap.String("lockToken", token.String()),
			zap.Int("entries", len(entries)))

		if len(entries) < o.batchSize {
			return nil
		}
	}
}

// FindStaleFailedEntries returns entries that failed more than
// StaleFailureAge ago. They require manual remediation.
func (o *Outbox) FindStaleFailedEntries(ctx context.Context) ([]domain.Entry, error) {
	return o.store.FindFailedBefore(ctx, time.Now().Add(-StaleFailureAge))
}

// UnlockStaleEntries force-unlocks entries held longer than StaleLockAge,
// regardless of lock token. Recovers batches orphaned by a crash
// mid-publish.
func (o *Outbox) UnlockStaleEntries(ctx context.Context) (int64, error) {
	return o.store.UnlockLockedBefore(ctx, time.Now().Add(-StaleLockAge))
}

// CleanupOldAcknowledgedEntries purges entries acknowledged more than
// AcknowledgedRetention ago.
func (o *Outbox) CleanupOldAcknowledgedEntries(ctx context.Context) (int64, error) {
	return o.store.DeleteAcknowledgedBefore(ctx, time.Now().Add(-AcknowledgedRetention))
}
