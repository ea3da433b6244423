// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tabular

import "context"

// Source is a sliceable handle over tabular data. Eager sources wrap an
// in-memory table; lazy sources (Parquet) materialize only the requested
// window. Slice forces collection of the window it returns.
type Source interface {
	// NumRows reports the total row count, or -1 when unknown.
	NumRows() int64
	// Slice materializes up to n rows starting at offset. A short or empty
	// table signals the end of the data.
	Slice(ctx context.Context, offset, n int) (*Table, error)
	Close() error
}

// tableSource adapts a materialized table to the Source interface.
type tableSource struct {
	t *Table
}

// NewTableSource wraps an eager table as a Source.
func NewTableSource(t *Table) Source { return &tableSource{t: t} }

func (s *tableSource) NumRows() int64 { return int64(s.t.Len()) }

func (s *tableSource) Slice(_ context.Context, offset, n int) (*Table, error) {
	return s.t.Slice(offset, n), nil
}

func (s *tableSource) Close() error { return nil }

// Collect drains a source into a single table.
func Collect(src Source) (*Table, error) {
	const window = 4096
	var (
		out    *Table
		rows   []Row
		offset int
	)
	for {
		t, err := src.Slice(context.Background(), offset, window)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = &Table{cols: t.Columns()}
		}
		if t.Len() == 0 {
			break
		}
		rows = append(rows, t.Rows()...)
		offset += t.Len()
		if t.Len() < window {
			break
		}
	}
	if out == nil {
		out = &Table{}
	}
	out.rows = rows
	return out, nil
}
