package domain

import (
	"context"
	"time"
)

// Store is the persisted outbox queue with its lock/ack/fail bookkeeping.
// Mutual exclusion between concurrently draining instances is expressed
// as conditional updates here, never as in-process locks.
type Store interface {
	// Insert persists the entries within the caller's transaction. It must
	// fail with ErrNoActiveTransaction when no transaction is active.
	Insert(ctx context.Context, entries ...Entry) error

	// LockUnlockedBatch claims up to limit entries that are unlocked,
	// unacknowledged and unfailed, tagging them with the token. Claiming
	// fewer entries than matched is fine; FindLockedEntries is the source
	// of truth for what was won.
	LockUnlockedBatch(ctx context.Context, token LockToken, limit int) error

	// FindLockedEntries returns exactly the entries locked with the token,
	// in creation order.
	FindLockedEntries(ctx context.Context, token LockToken) ([]Entry, error)

	// AcknowledgeLocked marks every entry holding the token as delivered
	// and releases the lock. Acknowledged entries stay around until
	// cleanup.
	AcknowledgeLocked(ctx context.Context, token LockToken) error

	// ReleaseLocked resolves a failed batch: entries whose retry count
	// would reach maxRetries are marked failed terminally, the rest are
	// unlocked with their retry count incremented.
	ReleaseLocked(ctx context.Context, token LockToken, maxRetries int) error

	// FindFailedBefore returns entries that failed before the cutoff.
	// Surfaced for alerting, never auto-resolved.
	FindFailedBefore(ctx context.Context, cutoff time.Time) ([]Entry, error)

	// UnlockLockedBefore force-unlocks entries locked before the cutoff,
	// regardless of token. Crash recovery.
	UnlockLockedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteAcknowledgedBefore purges entries acknowledged before the
	// cutoff and returns how many were removed.
	DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BrokerPublisher delivers a claimed batch to the broker. It must declare
// unknown destinations, tag every message with the entry ID as stable
// message id, and wait for broker confirmation within a bounded timeout.
// Any missing confirmation fails the whole batch; a timeout does not
// prove non-delivery, so consumers must deduplicate.
type BrokerPublisher interface {
	PublishBatch(ctx context.Context, entries []Entry) error
	Close() error
}
