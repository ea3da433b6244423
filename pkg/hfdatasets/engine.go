// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"io"

	"github.com/bodaay/HuggingFaceDatasets/pkg/tabular"
)

// Engine decodes tabular payloads into tables. The default is backed by
// pkg/tabular; callers with their own readers substitute one through
// Options.Engine, and tests use counting fakes.
type Engine interface {
	// OpenCSV opens a CSV document with a header row for incremental row
	// access. Rows are decoded only as they are sliced.
	OpenCSV(r io.Reader) (tabular.Source, error)
	// OpenJSONL opens one-JSON-object-per-line data for incremental row
	// access.
	OpenJSONL(r io.Reader) (tabular.Source, error)
	// OpenParquet opens a parquet payload for windowed row access without
	// materializing it. The reader must stay valid until Close.
	OpenParquet(ra io.ReaderAt, size int64) (tabular.Source, error)
	// DecodeFile materializes a local file, dispatching on its extension.
	DecodeFile(path string) (*tabular.Table, error)
}

// DefaultEngine is used when Options.Engine is nil.
var DefaultEngine Engine = tabularEngine{}

type tabularEngine struct{}

func (tabularEngine) OpenCSV(r io.Reader) (tabular.Source, error)   { return tabular.NewCSVSource(r) }
func (tabularEngine) OpenJSONL(r io.Reader) (tabular.Source, error) { return tabular.NewJSONLSource(r) }

func (tabularEngine) OpenParquet(ra io.ReaderAt, size int64) (tabular.Source, error) {
	return tabular.OpenParquet(ra, size)
}

func (tabularEngine) DecodeFile(path string) (*tabular.Table, error) {
	return tabular.Decode(path)
}

// supportedExtension reports whether the loader knows how to decode a file.
func supportedExtension(name string) bool {
	switch tabular.Extension(name) {
	case "csv", "jsonl", "parquet":
		return true
	}
	return false
}
