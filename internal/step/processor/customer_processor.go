// Package processor holds the record transformers of the customer jobs.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/chunkflow/internal/domain/entity"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const moduleName = "CustomerProcessor"

// Clock returns the current time.
type Clock func() time.Time

// CustomerProcessor upper-cases names, trims the email and stamps the processing metadata.
// It holds no mutable state and is shared by every partition.
type CustomerProcessor struct {
	now Clock
}

// NewCustomerProcessor creates a CustomerProcessor using the wall clock in UTC.
func NewCustomerProcessor() *CustomerProcessor {
	return NewCustomerProcessorWithClock(func() time.Time { return time.Now().UTC() })
}

// NewCustomerProcessorWithClock creates a CustomerProcessor stamping times from now.
func NewCustomerProcessorWithClock(now Clock) *CustomerProcessor {
	return &CustomerProcessor{now: now}
}

// Process returns a transformed copy of in. processedBy is the worker tag carried by ctx.
func (p *CustomerProcessor) Process(ctx context.Context, in *entity.Customer) (*entity.Customer, error) {
	if in == nil || in.ID == 0 {
		return nil, exception.NewTransformFailure(moduleName, "record has no identity", nil)
	}
	if in.IsProcessed() {
		return nil, exception.NewTransformFailure(moduleName, fmt.Sprintf("customer %d was already processed", in.ID), nil)
	}

	out := *in
	out.FirstName = strings.ToUpper(in.FirstName)
	out.LastName = strings.ToUpper(in.LastName)
	out.Email = strings.TrimSpace(in.Email)

	at := p.now()
	by := port.WorkerNameFromContext(ctx)
	out.ProcessedAt = &at
	out.ProcessedBy = &by
	return &out, nil
}

var _ port.ItemProcessor[*entity.Customer, *entity.Customer] = (*CustomerProcessor)(nil)
