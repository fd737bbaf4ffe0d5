package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/platform/persistence"
)

// TransactionManager runs callbacks inside a MongoDB multi-document
// transaction. The session travels in the context, so every collection
// access inside the callback is part of the same transaction.
type TransactionManager struct {
	client *mongo.Client
}

func NewTransactionManager(client *mongo.Client) *TransactionManager {
	return &TransactionManager{client: client}
}

func (m *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

var _ persistence.TransactionManager = (*TransactionManager)(nil)

// TransactionRunning reports whether the context carries a session with a
// transaction in progress. A bare session is not enough: writes that must
// be transactional check this before touching collections.
func TransactionRunning(ctx context.Context) bool {
	session := mongo.SessionFromContext(ctx)
	if session == nil {
		return false
	}
	xs, ok := session.(mongo.XSession)
	return ok && xs.ClientSession().TransactionRunning()
}
