// Package writer provides item writers for chunk steps.
package writer

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SqlBulkWriter is a port.ItemWriter that upserts each chunk into a table through the chunk
// transaction. Rows conflicting on conflictColumns are updated, so a replayed chunk after a
// restart overwrites instead of duplicating.
type SqlBulkWriter[T any] struct {
	name            string
	bulkSize        int      // rows per upsert statement
	tableName       string
	conflictColumns []string // identity columns
	updateColumns   []string // empty for DO NOTHING
}

// NewSqlBulkWriter creates a new SqlBulkWriter. bulkSize < 1 sends each chunk as one statement.
func NewSqlBulkWriter[T any](name string, bulkSize int, tableName string, conflictColumns []string, updateColumns []string) *SqlBulkWriter[T] {
	return &SqlBulkWriter[T]{
		name:            name,
		bulkSize:        bulkSize,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}
}

var _ port.ItemWriter[any] = (*SqlBulkWriter[any])(nil)

// Open does nothing; the writer holds no state between chunks.
func (w *SqlBulkWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("SqlBulkWriter '%s': Opened (table: %s).", w.name, w.tableName)
	return nil
}

// Write upserts items within t.
func (w *SqlBulkWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	size := w.bulkSize
	if size < 1 {
		size = len(items)
	}

	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		if _, err := t.ExecuteUpsert(ctx, items[i:end], w.tableName, w.conflictColumns, w.updateColumns); err != nil {
			return exception.NewSinkWriteFailure("writer", fmt.Sprintf("SqlBulkWriter '%s': bulk upsert into '%s' failed (start index %d)", w.name, w.tableName, i), err)
		}
	}
	logger.Debugf("SqlBulkWriter '%s': Wrote %d items.", w.name, len(items))
	return nil
}

// Close does nothing.
func (w *SqlBulkWriter[T]) Close(ctx context.Context) error {
	return nil
}

// TableName returns the target table.
func (w *SqlBulkWriter[T]) TableName() string {
	return w.tableName
}
