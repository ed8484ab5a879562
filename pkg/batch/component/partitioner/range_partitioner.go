// Package partitioner splits an input of known size into contiguous ranges for partitioned steps.
package partitioner

import (
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RangePartitioner is the [port.Partitioner] that assigns ceil(total/grid) records per partition.
type RangePartitioner struct{}

// NewRangePartitioner creates a new instance of [RangePartitioner].
func NewRangePartitioner() port.Partitioner {
	return &RangePartitioner{}
}

// Partition implements [port.Partitioner].
func (p *RangePartitioner) Partition(totalRecords, gridSize int) ([]model.PartitionContext, error) {
	return Partition(totalRecords, gridSize)
}

// Partition returns exactly gridSize partitions. Partition i covers
// [i*per, min((i+1)*per, totalRecords)) with per = ceil(totalRecords/gridSize); trailing
// partitions are empty when gridSize exceeds totalRecords.
func Partition(totalRecords, gridSize int) ([]model.PartitionContext, error) {
	if gridSize < 1 {
		return nil, exception.NewInvalidArgumentError("partitioner", fmt.Sprintf("gridSize must be at least 1, got %d", gridSize))
	}
	if totalRecords < 0 {
		return nil, exception.NewInvalidArgumentError("partitioner", fmt.Sprintf("totalRecords must not be negative, got %d", totalRecords))
	}

	per := (totalRecords + gridSize - 1) / gridSize
	partitions := make([]model.PartitionContext, gridSize)
	for i := 0; i < gridSize; i++ {
		start := min(i*per, totalRecords)
		end := min(start+per, totalRecords)
		partitions[i] = model.PartitionContext{
			PartitionID: i,
			Offset:      start,
			Limit:       end - start,
			Label:       model.PartitionLabel(i),
		}
	}
	logger.Debugf("RangePartitioner: %d records split into %d partitions of up to %d.", totalRecords, gridSize, per)
	return partitions, nil
}

var _ port.Partitioner = (*RangePartitioner)(nil)
