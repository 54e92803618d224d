// Package query executes compiled SQL against the demo dataset.
package query

import (
	"context"
	"time"
)

// TableFile is one parquet object backing a registry table.
type TableFile struct {
	TableName     string
	ObjectPath    string
	FileSizeBytes int64
}

type Request struct {
	SQL string
	// Args are bound positionally to the placeholders in SQL.
	Args     []any
	RowLimit int
	Files    []TableFile
}

type Result struct {
	Columns      []string      `json:"columns"`
	Rows         [][]any       `json:"rows"`
	Truncated    bool          `json:"truncated"`
	ScannedFiles int           `json:"scanned_files"`
	ScannedBytes int64         `json:"scanned_bytes"`
	Duration     time.Duration `json:"-"`
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
