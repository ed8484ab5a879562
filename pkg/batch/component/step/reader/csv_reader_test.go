package reader_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type row struct {
	Line   int
	Fields []string
}

func mapRow(line int, fields []string) (row, error) {
	return row{Line: line, Fields: append([]string(nil), fields...)}, nil
}

func writeCSV(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("id,firstName,lastName\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,first%d,last%d\n", i, i, i)
	}
	return writeFile(t, b.String())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "customers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, r port.ItemReader[row], ec model.ExecutionContext) []row {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, ec))
	defer r.Close(ctx)
	var out []row
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, port.ErrNoMoreItems) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func ids(rows []row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Fields[0]
	}
	return out
}

func TestCSVReader_SkipsHeaderAndSkipCount(t *testing.T) {
	path := writeCSV(t, 5)
	r := reader.NewCSVReader(reader.CSVReaderOptions{Path: path, SkipCount: 2}, nil, mapRow)

	rows := readAll(t, r, model.NewExecutionContext())

	assert.Equal(t, []string{"3", "4", "5"}, ids(rows))
	assert.Equal(t, 4, rows[0].Line)
}

func TestCSVReader_PartitionRangeAndReadPosition(t *testing.T) {
	path := writeCSV(t, 100)
	p := model.PartitionContext{PartitionID: 1, Offset: 25, Limit: 25, Label: "partition-1"}

	rows := readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: path}, nil, mapRow), p.ToExecutionContext())
	require.Len(t, rows, 25)
	assert.Equal(t, "26", rows[0].Fields[0])
	assert.Equal(t, "50", rows[24].Fields[0])

	ec := p.ToExecutionContext()
	ec.Put(model.ContextKeyReadPosition, 20)
	rows = readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: path}, nil, mapRow), ec)
	assert.Equal(t, []string{"46", "47", "48", "49", "50"}, ids(rows))
}

func TestCSVReader_EmptyPartitionAndHeaderOnly(t *testing.T) {
	path := writeCSV(t, 3)
	empty := model.PartitionContext{PartitionID: 3, Offset: 3, Limit: 0, Label: "partition-3"}
	assert.Empty(t, readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: path}, nil, mapRow), empty.ToExecutionContext()))

	headerOnly := writeFile(t, "id,firstName,lastName\n")
	assert.Empty(t, readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: headerOnly}, nil, mapRow), model.NewExecutionContext()))

	blank := writeFile(t, "")
	assert.Empty(t, readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: blank}, nil, mapRow), model.NewExecutionContext()))
}

func TestCSVReader_StrictModeReportsLine(t *testing.T) {
	path := writeFile(t, "id,firstName,lastName\n1,a,b\n2,c\n3,d,e\n")
	r := reader.NewCSVReader(reader.CSVReaderOptions{Path: path, Strict: true}, nil, mapRow)
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	defer r.Close(ctx)

	_, err := r.Read(ctx)
	require.NoError(t, err)
	_, err = r.Read(ctx)

	var malformed *exception.MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Line)
	assert.ErrorIs(t, err, exception.ErrMalformedInput)
}

func TestCSVReader_LenientModePadsMissingFields(t *testing.T) {
	path := writeFile(t, "id,firstName,lastName\n1,a\n2,b,c,extra\n")
	rows := readAll(t, reader.NewCSVReader(reader.CSVReaderOptions{Path: path}, nil, mapRow), model.NewExecutionContext())

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "a", ""}, rows[0].Fields)
	assert.Equal(t, []string{"2", "b", "c"}, rows[1].Fields)
}

func TestCSVReader_CountRecords(t *testing.T) {
	r := reader.NewCSVReader(reader.CSVReaderOptions{Path: writeCSV(t, 1000)}, nil, mapRow)
	n, err := r.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	r = reader.NewCSVReader(reader.CSVReaderOptions{Path: writeFile(t, "")}, nil, mapRow)
	n, err = r.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCSVReader_MissingFile(t *testing.T) {
	r := reader.NewCSVReader(reader.CSVReaderOptions{Path: filepath.Join(t.TempDir(), "absent.csv")}, nil, mapRow)
	assert.Error(t, r.Open(context.Background(), model.NewExecutionContext()))
}

func TestCSVReader_ReadsFromStorageConnection(t *testing.T) {
	baseDir := t.TempDir()
	cfg := coreConfig.NewConfig()
	cfg.Chunkflow.Storage = map[string]interface{}{
		"inbox": map[string]interface{}{"type": "local", "base_dir": baseDir, "bucket_name": "incoming"},
	}
	resolver := storageAdapter.NewConnectionResolver(storageAdapter.ConnectionResolverParams{
		Config:    cfg,
		Providers: []storageAdapter.StorageProvider{local.NewLocalProvider(cfg)},
	})
	conn, err := resolver.ResolveStorageConnection(context.Background(), "inbox")
	require.NoError(t, err)
	require.NoError(t, conn.Upload(context.Background(), "", "customers.csv", strings.NewReader("id,name\n7,x\n8,y\n"), "text/csv"))

	r := reader.NewCSVReader(reader.CSVReaderOptions{Path: "customers.csv", StorageRef: "inbox"}, resolver, mapRow)
	assert.Equal(t, []string{"7", "8"}, ids(readAll(t, r, model.NewExecutionContext())))
}
