package domain

import "errors"

var (
	// ErrNoActiveTransaction means an outbox insert was attempted outside
	// a transaction. Programmer error; fails fast, never retried.
	ErrNoActiveTransaction = errors.New("outbox insert requires an active transaction")

	// ErrPublishBatchFailed means the broker did not confirm a batch in
	// time. Handled entirely inside the outbox (release or terminal fail);
	// it never reaches the business write path, which has already
	// committed.
	ErrPublishBatchFailed = errors.New("publishing outbox batch failed")
)
