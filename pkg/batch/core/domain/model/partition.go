package model

import "fmt"

// PartitionContext describes one contiguous range of the input: [Offset, Offset+Limit).
type PartitionContext struct {
	PartitionID int
	Offset      int
	Limit       int
	Label       string
}

// End returns the exclusive upper bound of the range.
func (p PartitionContext) End() int {
	return p.Offset + p.Limit
}

// IsEmpty reports whether the partition covers no records.
func (p PartitionContext) IsEmpty() bool {
	return p.Limit == 0
}

// PartitionLabel is the label of partition i.
func PartitionLabel(index int) string {
	return fmt.Sprintf("partition-%d", index)
}

// PartitionStepName is the name of the worker step execution for a partition.
func PartitionStepName(workerStepName string, p PartitionContext) string {
	return workerStepName + ":" + p.Label
}

// ToExecutionContext stores the partition range in a fresh context.
func (p PartitionContext) ToExecutionContext() ExecutionContext {
	ec := NewExecutionContext()
	ec.Put(ContextKeyPartitionOffset, p.Offset)
	ec.Put(ContextKeyPartitionLimit, p.Limit)
	ec.Put(ContextKeyPartitionLabel, p.Label)
	return ec
}

// ChunkResult is the outcome of one chunk: how many records were read and written, and
// whether the chunk failed (in which case nothing it produced was committed).
type ChunkResult struct {
	RecordsRead    int
	RecordsWritten int
	Failed         bool
	Cause          error
	// EndOfInput is set when the source was exhausted during this chunk.
	EndOfInput bool
}
