// Package item holds generic item components.
package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// PassThroughItemProcessor returns every item unchanged. Chunk steps whose transformation
// happens downstream, such as publishing to the bus, use it.
type PassThroughItemProcessor[T any] struct{}

// NewPassThroughItemProcessor creates a new PassThroughItemProcessor.
func NewPassThroughItemProcessor[T any]() *PassThroughItemProcessor[T] {
	return &PassThroughItemProcessor[T]{}
}

// Process returns item.
func (p *PassThroughItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

var _ port.ItemProcessor[any, any] = (*PassThroughItemProcessor[any])(nil)
