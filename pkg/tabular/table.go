// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tabular implements the default table engine for dataset files:
// eager and incremental CSV and JSONL readers, a lazy Parquet reader, and a
// small in-memory Table type with slicing. Values are plain Go scalars (bool,
// int64, float64, string) with nil for missing fields.
package tabular

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned when a file's extension is not one of the
// recognized tabular formats (csv, jsonl, parquet).
var ErrUnsupported = errors.New("unsupported tabular format")

// Row is a single record keyed by column name.
type Row map[string]any

// Table is an ordered, fully materialized collection of rows.
type Table struct {
	cols []string
	rows []Row
}

// NewTable builds a table from a column order and rows. The column slice is
// retained as-is; callers must not mutate it afterwards.
func NewTable(cols []string, rows []Row) *Table {
	return &Table{cols: cols, rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the column names in their natural order.
func (t *Table) Columns() []string { return t.cols }

// Rows returns the backing row slice. The slice is shared, not copied.
func (t *Table) Rows() []Row { return t.rows }

// Slice returns a new table with up to n rows starting at offset. Out of
// range offsets yield an empty table; the row slice is shared with t.
func (t *Table) Slice(offset, n int) *Table {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.rows) || n <= 0 {
		return &Table{cols: t.cols}
	}
	end := offset + n
	if end > len(t.rows) {
		end = len(t.rows)
	}
	return &Table{cols: t.cols, rows: t.rows[offset:end]}
}

// Extension returns the lowercased filename extension without the dot, used
// for format dispatch ("csv", "jsonl", "parquet", ...).
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Decode reads an entire file into a table, dispatching on extension.
func Decode(path string) (*Table, error) {
	switch Extension(path) {
	case "csv":
		return ReadCSVFile(path)
	case "jsonl":
		return ReadJSONLFile(path)
	case "parquet":
		src, err := OpenParquetFile(path)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return Collect(src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Base(path))
	}
}
