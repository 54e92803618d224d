package dataset

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EncodedTable is one table serialised as a single parquet file.
type EncodedTable struct {
	Table       string
	Data        []byte
	RecordCount int64
}

func encodeRows[T any](table string, rows []T) (EncodedTable, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodedTable{}, fmt.Errorf("write %s parquet rows: %w", table, err)
	}
	if err := writer.Close(); err != nil {
		return EncodedTable{}, fmt.Errorf("close %s parquet writer: %w", table, err)
	}
	return EncodedTable{Table: table, Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}

// Encode serialises every table of ds, in customers, products, orders order.
func Encode(ds Dataset) ([]EncodedTable, error) {
	customers, err := encodeRows("customers", ds.Customers)
	if err != nil {
		return nil, err
	}
	products, err := encodeRows("products", ds.Products)
	if err != nil {
		return nil, err
	}
	orders, err := encodeRows("orders", ds.Orders)
	if err != nil {
		return nil, err
	}
	return []EncodedTable{customers, products, orders}, nil
}
