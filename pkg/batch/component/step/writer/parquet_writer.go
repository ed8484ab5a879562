package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ParquetWriterConfig holds the configuration for ParquetWriter.
type ParquetWriterConfig struct {
	// StorageRef is the name of the storage connection to upload to.
	StorageRef string `mapstructure:"storageRef"`
	// Bucket overrides the connection's default bucket.
	Bucket string `mapstructure:"bucket"`
	// OutputBaseDir is the object prefix for exported files (e.g., "exports/customers").
	OutputBaseDir string `mapstructure:"outputBaseDir"`
	// CompressionType is "SNAPPY" (default), "GZIP" or "NONE".
	CompressionType string `mapstructure:"compressionType"`
}

// ParquetWriter is a port.ItemWriter that encodes every chunk as one Parquet file and uploads it.
// File names derive from the partition label and the chunk's record range, so a chunk replayed
// after a restart overwrites its earlier upload instead of adding a duplicate file.
type ParquetWriter[T, R any] struct {
	name     string
	config   ParquetWriterConfig
	resolver storage.StorageConnectionResolver
	// prototype is a zero value of the row type, used for schema reflection.
	prototype *R
	toRow     func(T) R
	codec     parquet.CompressionCodec

	conn     storage.StorageConnection
	label    string
	position int
}

// NewParquetWriter creates a ParquetWriter from loosely typed properties.
func NewParquetWriter[T, R any](
	name string,
	properties map[string]interface{},
	resolver storage.StorageConnectionResolver,
	prototype *R,
	toRow func(T) R,
) (*ParquetWriter[T, R], error) {
	var config ParquetWriterConfig
	if err := mapstructure.Decode(properties, &config); err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("Failed to decode ParquetWriter properties for '%s'", name), err, false, false)
	}
	if config.StorageRef == "" {
		return nil, exception.NewInvalidArgumentError("writer", fmt.Sprintf("ParquetWriter '%s' requires 'storageRef' property", name))
	}
	if config.OutputBaseDir == "" {
		return nil, exception.NewInvalidArgumentError("writer", fmt.Sprintf("ParquetWriter '%s' requires 'outputBaseDir' property", name))
	}
	codec, err := compressionCodec(config.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s'", name), err, false, false)
	}
	return &ParquetWriter[T, R]{
		name:      name,
		config:    config,
		resolver:  resolver,
		prototype: prototype,
		toRow:     toRow,
		codec:     codec,
	}, nil
}

// Open resolves the storage connection and picks up the partition label and read position.
func (w *ParquetWriter[T, R]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.config.StorageRef)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("Failed to resolve storage connection '%s' for ParquetWriter '%s'", w.config.StorageRef, w.name), err, false, false)
	}
	w.conn = conn
	w.label, _ = ec.GetString(model.ContextKeyPartitionLabel)
	if w.label == "" {
		w.label = "main"
	}
	offset, _ := ec.GetInt(model.ContextKeyPartitionOffset)
	position, _ := ec.GetInt(model.ContextKeyReadPosition)
	w.position = offset + position

	logger.Infof("ParquetWriter '%s' opened. Target storage: %s, base directory: %s", w.name, w.config.StorageRef, w.config.OutputBaseDir)
	return nil
}

// Write encodes items into one Parquet file and uploads it. The upload is the commit point.
func (w *ParquetWriter[T, R]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if w.conn == nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s' is not open", w.name), nil, false, false)
	}

	buf, err := w.encode(items)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to encode chunk", w.name), err, false, false)
	}

	start := w.position
	end := start + len(items)
	objectName := path.Join(w.config.OutputBaseDir, w.label, fmt.Sprintf("part-%010d-%010d.parquet", start, end))
	if err := w.conn.Upload(ctx, w.config.Bucket, objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewSinkWriteFailure("writer", fmt.Sprintf("ParquetWriter '%s': failed to upload '%s'", w.name, objectName), err)
	}
	w.position = end
	logger.Debugf("ParquetWriter '%s': Uploaded %d records to %s.", w.name, len(items), objectName)
	return nil
}

func (w *ParquetWriter[T, R]) encode(items []T) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, w.prototype, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = w.codec
	pw.RowGroupSize = 128 * 1024 * 1024

	for _, item := range items {
		if err := pw.Write(w.toRow(item)); err != nil {
			return nil, err
		}
	}

	// WriteStop panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases the connection reference. Connections are owned and closed by their provider.
func (w *ParquetWriter[T, R]) Close(ctx context.Context) error {
	w.conn = nil
	return nil
}

// compressionCodec returns the Parquet compression codec for a name.
func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

var _ port.ItemWriter[any] = (*ParquetWriter[any, any])(nil)
