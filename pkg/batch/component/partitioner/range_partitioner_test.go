package partitioner_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func TestPartition_ThousandRecordsFourWays(t *testing.T) {
	parts, err := partitioner.NewRangePartitioner().Partition(1000, 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)

	want := [][2]int{{0, 250}, {250, 500}, {500, 750}, {750, 1000}}
	for i, p := range parts {
		assert.Equal(t, i, p.PartitionID)
		assert.Equal(t, want[i][0], p.Offset)
		assert.Equal(t, want[i][1], p.End())
		assert.Equal(t, fmt.Sprintf("partition-%d", i), p.Label)
	}
}

func TestPartition_UnevenSplitClampsLastRange(t *testing.T) {
	parts, err := partitioner.Partition(10, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, parts[0].Limit)
	assert.Equal(t, 4, parts[1].Limit)
	assert.Equal(t, 2, parts[2].Limit)
	assert.Equal(t, 10, parts[2].End())
}

func TestPartition_MoreGridThanRecords(t *testing.T) {
	parts, err := partitioner.Partition(2, 5)
	require.NoError(t, err)
	require.Len(t, parts, 5)

	assert.Equal(t, 1, parts[0].Limit)
	assert.Equal(t, 1, parts[1].Limit)
	for _, p := range parts[2:] {
		assert.True(t, p.IsEmpty())
		assert.Equal(t, 2, p.Offset)
	}
}

func TestPartition_ZeroRecords(t *testing.T) {
	parts, err := partitioner.Partition(0, 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)
	for _, p := range parts {
		assert.True(t, p.IsEmpty())
	}
}

func TestPartition_InvalidArguments(t *testing.T) {
	_, err := partitioner.Partition(10, 0)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = partitioner.Partition(-1, 2)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

// Every record belongs to exactly one partition, ranges are contiguous and there are always gridSize of them.
func TestPartition_CoverageProperty(t *testing.T) {
	for total := 0; total <= 120; total++ {
		for grid := 1; grid <= 16; grid++ {
			parts, err := partitioner.Partition(total, grid)
			require.NoError(t, err)
			require.Len(t, parts, grid)

			next := 0
			covered := 0
			for _, p := range parts {
				require.Equal(t, next, p.Offset, "total=%d grid=%d", total, grid)
				require.GreaterOrEqual(t, p.Limit, 0)
				next = p.End()
				covered += p.Limit
			}
			require.Equal(t, total, covered, "total=%d grid=%d", total, grid)
			require.Equal(t, total, next)
		}
	}
}

func TestPartition_Deterministic(t *testing.T) {
	a, err := partitioner.Partition(997, 7)
	require.NoError(t, err)
	b, err := partitioner.Partition(997, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
