// Package entity holds the records moved by the customer jobs.
package entity

import (
	"strconv"
	"time"
)

// Customer is one customer record. ProcessedAt and ProcessedBy are set together, once, by the
// transformer.
type Customer struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	FirstName   string     `gorm:"column:first_name" json:"firstName"`
	LastName    string     `gorm:"column:last_name" json:"lastName"`
	Email       string     `gorm:"column:email" json:"email"`
	Gender      string     `gorm:"column:gender" json:"gender"`
	ContactNo   string     `gorm:"column:contact_no" json:"contactNo"`
	Country     string     `gorm:"column:country" json:"country"`
	Dob         string     `gorm:"column:dob" json:"dob"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processedAt,omitempty"`
	ProcessedBy *string    `gorm:"column:processed_by" json:"processedBy,omitempty"`
}

// TableName specifies the table name for Customer.
func (Customer) TableName() string {
	return "customers"
}

// Key is the stable identity used as the message key.
func (c Customer) Key() string {
	return strconv.FormatInt(c.ID, 10)
}

// IsProcessed reports whether the record already carries processing metadata.
func (c Customer) IsProcessed() bool {
	return c.ProcessedAt != nil || c.ProcessedBy != nil
}

// CustomerRow is the Parquet row of a Customer.
type CustomerRow struct {
	ID          int64   `parquet:"name=id, type=INT64"`
	FirstName   string  `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName    string  `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Email       string  `parquet:"name=email, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gender      string  `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8"`
	ContactNo   string  `parquet:"name=contact_no, type=BYTE_ARRAY, convertedtype=UTF8"`
	Country     string  `parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8"`
	Dob         string  `parquet:"name=dob, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProcessedAt *int64  `parquet:"name=processed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	ProcessedBy *string `parquet:"name=processed_by, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// ToRow converts c to its Parquet row.
func ToRow(c *Customer) CustomerRow {
	row := CustomerRow{
		ID:          c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Email:       c.Email,
		Gender:      c.Gender,
		ContactNo:   c.ContactNo,
		Country:     c.Country,
		Dob:         c.Dob,
		ProcessedBy: c.ProcessedBy,
	}
	if c.ProcessedAt != nil {
		millis := c.ProcessedAt.UnixMilli()
		row.ProcessedAt = &millis
	}
	return row
}
