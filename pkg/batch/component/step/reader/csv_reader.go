// Package reader provides item readers for chunk steps.
package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RecordMapper converts the fields of one CSV record into an item. line is the 1-based
// physical line the record starts on.
type RecordMapper[T any] func(line int, fields []string) (T, error)

// CSVReaderOptions configures a CSVReader.
type CSVReaderOptions struct {
	// Path is a local file path, or an object name when StorageRef is set.
	Path string
	// StorageRef names a storage connection to download Path from. Empty reads the local file system.
	StorageRef string
	// SkipCount is the number of records skipped after the header.
	SkipCount int
	// Strict fails records whose field count differs from the header's.
	Strict bool
}

// CSVReader is a port.ItemReader over a CSV file with a header line. It is forward-only and
// lazy: records are parsed as Read is called.
//
// On Open it honours the partition offset and limit and the committed read position found
// in the step's ExecutionContext, so a worker resumes exactly where its last chunk committed.
type CSVReader[T any] struct {
	opts     CSVReaderOptions
	resolver storageAdapter.StorageConnectionResolver
	mapper   RecordMapper[T]

	source    io.ReadCloser
	csv       *csv.Reader
	width     int
	remaining int // -1 for unbounded
}

// NewCSVReader creates a CSVReader. resolver may be nil when StorageRef is empty.
func NewCSVReader[T any](opts CSVReaderOptions, resolver storageAdapter.StorageConnectionResolver, mapper RecordMapper[T]) *CSVReader[T] {
	return &CSVReader[T]{opts: opts, resolver: resolver, mapper: mapper, remaining: -1}
}

// Open opens the input, consumes the header and skips to the first record to yield.
func (r *CSVReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	source, err := r.openSource(ctx)
	if err != nil {
		return err
	}
	r.source = source
	r.csv = newCSV(source)

	header, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		// An empty file yields nothing.
		r.remaining = 0
		return nil
	}
	if err != nil {
		return r.malformed(err)
	}
	r.width = len(header)

	offset, _ := ec.GetInt(model.ContextKeyPartitionOffset)
	position, _ := ec.GetInt(model.ContextKeyReadPosition)
	r.remaining = -1
	if limit, ok := ec.GetInt(model.ContextKeyPartitionLimit); ok {
		r.remaining = max(limit-position, 0)
	}

	skip := r.opts.SkipCount + offset + position
	for i := 0; i < skip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				r.remaining = 0
				break
			}
			return r.malformed(err)
		}
	}
	logger.Debugf("CSVReader '%s': Opened (skipped %d records, remaining %d).", r.opts.Path, skip, r.remaining)
	return nil
}

// Read returns the next item, or port.ErrNoMoreItems at the end of the input or partition.
func (r *CSVReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.csv == nil {
		return zero, exception.NewBatchError("reader", "CSVReader is not open", nil, false, false)
	}
	if r.remaining == 0 {
		return zero, port.ErrNoMoreItems
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	fields, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrNoMoreItems
	}
	if err != nil {
		return zero, r.malformed(err)
	}
	line, _ := r.csv.FieldPos(0)
	if r.remaining > 0 {
		r.remaining--
	}

	switch {
	case len(fields) != r.width && r.opts.Strict:
		return zero, &exception.MalformedRecordError{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", r.width, len(fields))}
	case len(fields) < r.width:
		padded := make([]string, r.width)
		copy(padded, fields)
		fields = padded
	case len(fields) > r.width:
		fields = fields[:r.width]
	}
	return r.mapper(line, fields)
}

// Close releases the input.
func (r *CSVReader[T]) Close(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	r.csv = nil
	return err
}

// CountRecords streams the whole input and returns the number of records after the header.
func (r *CSVReader[T]) CountRecords(ctx context.Context) (int, error) {
	source, err := r.openSource(ctx)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	cr := newCSV(source)
	count := -1
	for {
		if _, err := cr.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, r.malformed(err)
		}
		count++
		if count%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}
	return max(count, 0), nil
}

func (r *CSVReader[T]) openSource(ctx context.Context) (io.ReadCloser, error) {
	if r.opts.StorageRef == "" {
		f, err := os.Open(r.opts.Path)
		if err != nil {
			return nil, exception.NewBatchError("reader", fmt.Sprintf("Failed to open input file '%s'", r.opts.Path), err, false, false)
		}
		return f, nil
	}
	if r.resolver == nil {
		return nil, exception.NewInvalidArgumentError("reader", fmt.Sprintf("storage connection '%s' requested but no resolver configured", r.opts.StorageRef))
	}
	conn, err := r.resolver.ResolveStorageConnection(ctx, r.opts.StorageRef)
	if err != nil {
		return nil, exception.NewBatchError("reader", fmt.Sprintf("Failed to resolve storage connection '%s'", r.opts.StorageRef), err, false, false)
	}
	rc, err := conn.Download(ctx, "", r.opts.Path)
	if err != nil {
		return nil, exception.NewBatchError("reader", fmt.Sprintf("Failed to download '%s' from '%s'", r.opts.Path, r.opts.StorageRef), err, false, true)
	}
	return rc, nil
}

// malformed turns a csv parse error into a MalformedRecordError carrying its line.
func (r *CSVReader[T]) malformed(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &exception.MalformedRecordError{Line: pe.StartLine, Reason: pe.Err.Error()}
	}
	return exception.NewBatchError("reader", fmt.Sprintf("Failed to read '%s'", r.opts.Path), err, false, false)
}

func newCSV(source io.Reader) *csv.Reader {
	cr := csv.NewReader(source)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

var (
	_ port.ItemReader[any] = (*CSVReader[any])(nil)
	_ port.RecordCounter   = (*CSVReader[any])(nil)
)
