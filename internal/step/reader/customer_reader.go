// Package reader maps customer CSV files onto entity.Customer.
package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tigerroll/chunkflow/internal/domain/entity"
	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	csvReader "github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Columns is the expected header of a customer file.
var Columns = []string{"id", "firstName", "lastName", "email", "gender", "contactNo", "country", "dob"}

// MapCustomer converts one CSV record. An empty id yields ID 0, which the processor rejects;
// a non-numeric id is malformed input.
func MapCustomer(line int, fields []string) (*entity.Customer, error) {
	if len(fields) < len(Columns) {
		padded := make([]string, len(Columns))
		copy(padded, fields)
		fields = padded
	}
	c := &entity.Customer{
		FirstName: fields[1],
		LastName:  fields[2],
		Email:     fields[3],
		Gender:    fields[4],
		ContactNo: fields[5],
		Country:   fields[6],
		Dob:       fields[7],
	}
	if raw := strings.TrimSpace(fields[0]); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &exception.MalformedRecordError{Line: line, Reason: fmt.Sprintf("invalid id %q", raw)}
		}
		c.ID = id
	}
	return c, nil
}

// NewCustomerReader creates a CSV reader of customers.
func NewCustomerReader(opts csvReader.CSVReaderOptions, resolver storageAdapter.StorageConnectionResolver) *csvReader.CSVReader[*entity.Customer] {
	return csvReader.NewCSVReader[*entity.Customer](opts, resolver, MapCustomer)
}
