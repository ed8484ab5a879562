package tx

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoTransactionalResource is returned by a NoOpTx asked to write to a database.
var ErrNoTransactionalResource = errors.New("no transactional resource bound to this transaction")

// NoOpTransactionManager hands out transactions that bind no database. Steps whose writers are
// not database backed (message bus, files) use it; those writers publish a chunk in one call.
type NoOpTransactionManager struct{}

// NewNoOpTransactionManager creates a NoOpTransactionManager.
func NewNoOpTransactionManager() TransactionManager {
	return &NoOpTransactionManager{}
}

// NoOpTx is the transaction of NoOpTransactionManager.
type NoOpTx struct{}

// ExecuteUpsert always fails.
func (NoOpTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNoTransactionalResource
}

// Begin returns a NoOpTx.
func (m *NoOpTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return NoOpTx{}, nil
}

// Commit does nothing.
func (m *NoOpTransactionManager) Commit(tx Tx) error { return nil }

// Rollback does nothing.
func (m *NoOpTransactionManager) Rollback(tx Tx) error { return nil }
