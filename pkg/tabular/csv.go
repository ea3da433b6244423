// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadCSV parses CSV from r into a table. The first record is the header.
// Cell values get light scalar inference: empty cells become nil, then
// int64, float64 and bool parses are attempted in that order, otherwise the
// cell stays a string.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	cols := make([]string, len(header))
	copy(cols, header)

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: row %d: %w", len(rows)+2, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if i < len(rec) {
				row[col] = inferScalar(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return &Table{cols: cols, rows: rows}, nil
}

// ReadCSVFile reads a CSV file from disk.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// csvSource decodes records on demand, one Slice at a time. It reads
// strictly forward: a Slice offset behind the current position is an error.
type csvSource struct {
	cr   *csv.Reader
	cols []string
	pos  int
	eof  bool
}

// NewCSVSource opens an incremental CSV reader over r. The header row is read
// immediately; data rows are decoded only as they are sliced, so memory stays
// bounded by the slice size regardless of the document's length.
func NewCSVSource(r io.Reader) (Source, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return &csvSource{eof: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	cols := make([]string, len(header))
	copy(cols, header)
	return &csvSource{cr: cr, cols: cols}, nil
}

func (s *csvSource) NumRows() int64 { return -1 }

func (s *csvSource) Slice(ctx context.Context, offset, n int) (*Table, error) {
	if offset < s.pos {
		return nil, fmt.Errorf("csv: cannot slice backwards (offset %d, position %d)", offset, s.pos)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Discard rows up to offset.
	for s.pos < offset && !s.eof {
		if _, err := s.next(); err != nil {
			return nil, err
		}
	}

	rows := make([]Row, 0, n)
	for len(rows) < n && !s.eof {
		row, err := s.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	return &Table{cols: s.cols, rows: rows}, nil
}

// next decodes one record; a nil row signals the end of the data.
func (s *csvSource) next() (Row, error) {
	rec, err := s.cr.Read()
	if err == io.EOF {
		s.eof = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: row %d: %w", s.pos+2, err)
	}
	row := make(Row, len(s.cols))
	for i, col := range s.cols {
		if i < len(rec) {
			row[col] = inferScalar(rec[i])
		}
	}
	s.pos++
	return row, nil
}

func (s *csvSource) Close() error { return nil }

func inferScalar(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
