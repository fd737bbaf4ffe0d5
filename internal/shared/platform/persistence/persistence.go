package persistence

import "context"

// TransactionManager spans one transaction over everything the callback
// does. The callback context carries the active transaction; stores pick
// it up from there, and the outbox store refuses to insert without one.
//
// Nested calls join the surrounding transaction.
type TransactionManager interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
