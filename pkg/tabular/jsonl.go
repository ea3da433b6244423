// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// maxJSONLLine bounds a single JSONL record. Datasets with multi-megabyte
// rows exist, so this is generous.
const maxJSONLLine = 64 << 20

// ReadJSONL parses newline-delimited JSON from r into a table. Each
// non-empty line must be a JSON object. Integral numbers decode to int64,
// all other numbers to float64. Column order is the sorted union of the
// keys seen across all rows.
func ReadJSONL(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxJSONLLine)

	var (
		rows []Row
		seen = map[string]bool{}
	)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("jsonl: line %d: %w", lineNo, err)
		}
		row := make(Row, len(obj))
		for k, v := range obj {
			seen[k] = true
			row[k] = convertJSON(v)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}

	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return &Table{cols: cols, rows: rows}, nil
}

// ReadJSONLFile reads a JSONL file from disk.
func ReadJSONLFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}

// jsonlSource decodes lines on demand. Like csvSource it is forward-only.
// The column set of a returned table is the sorted union of the keys seen so
// far, so it may grow between slices.
type jsonlSource struct {
	sc    *bufio.Scanner
	seen  map[string]bool
	cols  []string
	stale bool
	pos   int
	line  int
	eof   bool
}

// NewJSONLSource opens an incremental JSONL reader over r. Lines are decoded
// only as they are sliced.
func NewJSONLSource(r io.Reader) (Source, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxJSONLLine)
	return &jsonlSource{sc: sc, seen: map[string]bool{}}, nil
}

func (s *jsonlSource) NumRows() int64 { return -1 }

func (s *jsonlSource) Slice(ctx context.Context, offset, n int) (*Table, error) {
	if offset < s.pos {
		return nil, fmt.Errorf("jsonl: cannot slice backwards (offset %d, position %d)", offset, s.pos)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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
	return &Table{cols: s.columns(), rows: rows}, nil
}

// next decodes one non-empty line; a nil row signals the end of the data.
func (s *jsonlSource) next() (Row, error) {
	for s.sc.Scan() {
		s.line++
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("jsonl: line %d: %w", s.line, err)
		}
		row := make(Row, len(obj))
		for k, v := range obj {
			if !s.seen[k] {
				s.seen[k] = true
				s.stale = true
			}
			row[k] = convertJSON(v)
		}
		s.pos++
		return row, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	s.eof = true
	return nil, nil
}

func (s *jsonlSource) columns() []string {
	if s.stale {
		cols := make([]string, 0, len(s.seen))
		for k := range s.seen {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		s.cols = cols
		s.stale = false
	}
	return s.cols
}

func (s *jsonlSource) Close() error { return nil }

func convertJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return i
			}
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return s
	case map[string]any:
		for k, vv := range x {
			x[k] = convertJSON(vv)
		}
		return x
	case []any:
		for i, vv := range x {
			x[i] = convertJSON(vv)
		}
		return x
	default:
		return v
	}
}
