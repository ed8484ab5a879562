package reader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/internal/step/reader"
	csvReader "github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const sample = `id,firstName,lastName,email,gender,contactNo,country,dob
1,Ada,Lovelace,ada@example.com,Female,555-0100,UK,10-12-1815
2,Alan,Turing,alan@example.com,Male
x,Bad,Id,bad@example.com,Male,555-0102,UK,01-01-1900
`

func writeFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "customers.csv")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	return p
}

func TestCustomerReader_MapsRecords(t *testing.T) {
	ctx := context.Background()
	r := reader.NewCustomerReader(csvReader.CSVReaderOptions{Path: writeFile(t)}, nil)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	defer r.Close(ctx)

	first, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "Lovelace", first.LastName)
	assert.Equal(t, "10-12-1815", first.Dob)

	second, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alan", second.FirstName)
	assert.Empty(t, second.Country)

	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, exception.ErrMalformedInput)

	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)
}

func TestMapCustomer_EmptyID(t *testing.T) {
	c, err := reader.MapCustomer(2, []string{"", "No", "Id"})
	require.NoError(t, err)
	assert.Zero(t, c.ID)
	assert.Equal(t, "No", c.FirstName)
}
