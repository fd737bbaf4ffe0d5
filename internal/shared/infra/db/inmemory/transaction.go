package inmemory

import (
	"context"
	"sync"

	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/platform/persistence"
)

type txKey struct{}

// Tx is an in-memory transaction. Stores apply mutations immediately and
// register compensating actions; a rollback replays them in reverse.
type Tx struct {
	mu   sync.Mutex
	undo []func()
}

// OnRollback registers a compensating action for a mutation that has
// already been applied.
func (t *Tx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

func (t *Tx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// TxFromContext returns the transaction the context is carrying, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// TransactionManager is the in-memory counterpart of the store-backed
// managers, used by tests.
type TransactionManager struct{}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

func (m *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx := &Tx{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

var _ persistence.TransactionManager = (*TransactionManager)(nil)
