// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// parquetSource reads a parquet file lazily: Slice seeks into the row groups
// covering the requested window and decodes only those rows. Works over any
// io.ReaderAt, which is what makes ranged HTTP reads possible.
type parquetSource struct {
	file   *parquet.File
	owned  io.Closer
	cols   []string
	groups []parquet.RowGroup
	starts []int64
	total  int64
}

// OpenParquet opens parquet data through an io.ReaderAt. The reader stays
// owned by the caller; Close releases only resources created here.
func OpenParquet(ra io.ReaderAt, size int64) (Source, error) {
	return openParquet(ra, size, nil)
}

// OpenParquetFile opens a parquet file from disk. Close releases the file.
func OpenParquetFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	src, err := openParquet(f, st.Size(), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func openParquet(ra io.ReaderAt, size int64, owned io.Closer) (Source, error) {
	pf, err := parquet.OpenFile(ra, size,
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parquet: open: %w", err)
	}

	var cols []string
	leafNames(pf.Schema(), "", &cols)

	groups := pf.RowGroups()
	starts := make([]int64, len(groups))
	var total int64
	for i, rg := range groups {
		starts[i] = total
		total += rg.NumRows()
	}
	return &parquetSource{
		file:   pf,
		owned:  owned,
		cols:   cols,
		groups: groups,
		starts: starts,
		total:  total,
	}, nil
}

// leafNames walks the schema depth-first collecting leaf column names in
// column-index order. Nested fields get dotted paths.
func leafNames(node parquet.Node, prefix string, out *[]string) {
	for _, f := range node.Fields() {
		name := f.Name()
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Leaf() {
			*out = append(*out, name)
		} else {
			leafNames(f, name, out)
		}
	}
}

func (p *parquetSource) NumRows() int64 { return p.total }

func (p *parquetSource) Close() error {
	if p.owned != nil {
		return p.owned.Close()
	}
	return nil
}

func (p *parquetSource) Slice(ctx context.Context, offset, n int) (*Table, error) {
	if offset < 0 {
		offset = 0
	}
	if int64(offset) >= p.total || n <= 0 {
		return &Table{cols: p.cols}, nil
	}

	// First group covering the offset.
	g := 0
	for g < len(p.groups)-1 && p.starts[g+1] <= int64(offset) {
		g++
	}

	out := make([]Row, 0, n)
	buf := make([]parquet.Row, 64)
	for ; g < len(p.groups) && len(out) < n; g++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := p.groups[g].Rows()
		local := int64(offset+len(out)) - p.starts[g]
		if local > 0 {
			if err := rows.SeekToRow(local); err != nil {
				rows.Close()
				return nil, fmt.Errorf("parquet: seek row %d: %w", local, err)
			}
		}
		for len(out) < n {
			want := n - len(out)
			if want > len(buf) {
				want = len(buf)
			}
			k, err := rows.ReadRows(buf[:want])
			for _, r := range buf[:k] {
				out = append(out, p.convertRow(r))
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("parquet: read rows: %w", err)
			}
			if k == 0 {
				break
			}
		}
		rows.Close()
	}
	return &Table{cols: p.cols, rows: out}, nil
}

// convertRow maps parquet values onto plain Go scalars keyed by leaf column
// name. Values are converted (and byte arrays copied) before the read buffer
// is reused.
func (p *parquetSource) convertRow(r parquet.Row) Row {
	row := make(Row, len(p.cols))
	for _, v := range r {
		ci := v.Column()
		if ci < 0 || ci >= len(p.cols) {
			continue
		}
		row[p.cols[ci]] = convertParquet(v)
	}
	return row
}

func convertParquet(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return v.String()
	default:
		return v.String()
	}
}
