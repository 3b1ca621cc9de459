package testutil

import (
	"database/sql"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Column builds a string-typed column descriptor for tests.
func Column(schema, table, column string) scan.ColumnDescriptor {
	return scan.ColumnDescriptor{
		Ref:      scan.ColumnRef{Schema: schema, Table: table, Column: column},
		Category: scan.TypeString,
		DataType: "character varying",
	}
}

// NumericColumn builds a numeric-typed column descriptor for tests.
func NumericColumn(schema, table, column string) scan.ColumnDescriptor {
	col := Column(schema, table, column)
	col.Category = scan.TypeNumeric
	col.DataType = "integer"
	return col
}

// Samples builds SampleData from literal values; nil entries become NULLs.
func Samples(ref scan.ColumnRef, values ...*string) *scan.SampleData {
	data := &scan.SampleData{Ref: ref}
	for _, v := range values {
		if v == nil {
			data.Values = append(data.Values, sql.NullString{})
			data.NullCount++
		} else {
			data.Values = append(data.Values, sql.NullString{String: *v, Valid: true})
		}
	}
	data.TotalRows = int64(len(data.Values))
	return data
}

// StringSamples builds SampleData from non-null string values.
func StringSamples(ref scan.ColumnRef, values ...string) *scan.SampleData {
	ptrs := make([]*string, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return Samples(ref, ptrs...)
}
