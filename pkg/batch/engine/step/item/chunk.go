// Package item implements chunk-oriented steps: read up to N items, process each, write the
// batch in one transaction, commit, repeat.
package item

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RunChunk pulls up to chunkSize items from reader, processes each and writes the batch through
// writer inside one transaction. A read, process or write failure rolls the transaction back and
// the destination observes nothing from this chunk. A chunk that reads nothing is a success.
func RunChunk[I, O any](
	ctx context.Context,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	txManager tx.TransactionManager,
	chunkSize int,
) model.ChunkResult {
	var result model.ChunkResult
	if chunkSize < 1 {
		result.Failed = true
		result.Cause = exception.NewInvalidArgumentError("chunk", fmt.Sprintf("chunk size must be at least 1, got %d", chunkSize))
		return result
	}

	items := make([]O, 0, chunkSize)
	for result.RecordsRead < chunkSize {
		in, err := reader.Read(ctx)
		if err != nil {
			if errors.Is(err, port.ErrNoMoreItems) {
				result.EndOfInput = true
				break
			}
			result.Failed = true
			result.Cause = exception.NewBatchError("chunk", "Item read failed", err, false, false)
			return result
		}
		result.RecordsRead++

		out, err := processor.Process(ctx, in)
		if err != nil {
			result.Failed = true
			result.Cause = exception.NewBatchError("chunk", fmt.Sprintf("Item process failed at chunk position %d", result.RecordsRead), err, false, false)
			return result
		}
		items = append(items, out)
	}

	if len(items) == 0 {
		return result
	}

	t, err := txManager.Begin(ctx)
	if err != nil {
		result.Failed = true
		result.Cause = exception.NewBatchError("chunk", "Failed to begin transaction for chunk", err, false, false)
		return result
	}
	if err := writer.Write(ctx, t, items); err != nil {
		result.Failed = true
		result.Cause = exception.NewBatchError("chunk", "Item write failed", err, false, exception.IsTemporary(err))
		if rbErr := txManager.Rollback(t); rbErr != nil {
			result.Cause = errors.Join(result.Cause, rbErr)
		}
		return result
	}
	if err := txManager.Commit(t); err != nil {
		result.Failed = true
		result.Cause = exception.NewBatchError("chunk", "Failed to commit transaction for chunk", err, false, false)
		return result
	}
	result.RecordsWritten = len(items)
	return result
}
