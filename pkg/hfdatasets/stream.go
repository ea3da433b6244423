// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"fmt"
	"os"

	"github.com/bodaay/HuggingFaceDatasets/pkg/tabular"
)

// Stream is a restartable lazy row source over the selected files of a
// dataset. It holds no open handles itself; every Iter starts an independent
// pass from the first file.
type Stream struct {
	repo    Repository
	listing *FileListing
	files   []string
	opts    Options
}

func newStream(repo Repository, listing *FileListing, files []string, o Options) *Stream {
	return &Stream{repo: repo, listing: listing, files: files, opts: o}
}

// Files are the names the stream will read, in order.
func (s *Stream) Files() []string { return s.files }

// BatchSize is the number of rows per pulled batch.
func (s *Stream) BatchSize() int { return s.opts.BatchSize }

// Iter returns a fresh iterator positioned before the first file. Iterators
// are independent; re-iterating replays the rows from the beginning.
func (s *Stream) Iter() *StreamIter {
	return &StreamIter{stream: s}
}

// StreamIter pulls row batches file by file. Rows from an earlier file
// always precede rows from a later one; within a file the decoder's order is
// kept. A file that fails to open is skipped, cancellation ends the
// iteration with the error in Err.
//
//	it := ds.Stream.Iter()
//	defer it.Close()
//	for it.Next(ctx) {
//	    use(it.Batch())
//	}
//	if err := it.Err(); err != nil { ... }
type StreamIter struct {
	stream *Stream

	index  int
	src    tabular.Source
	offset int
	batch  []tabular.Row
	err    error
	done   bool
}

// Next advances to the next non-empty batch. It returns false when the files
// are exhausted or a fatal error occurred.
func (it *StreamIter) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			it.fail(err)
			return false
		}
		if it.index >= len(it.stream.files) {
			it.done = true
			it.batch = nil
			return false
		}
		name := it.stream.files[it.index]

		if it.src == nil {
			src, err := it.stream.open(ctx, name)
			if err != nil {
				if ctx.Err() != nil {
					it.fail(err)
					return false
				}
				// Skip and continue with the next file.
				it.stream.opts.emit(ProgressEvent{Event: "error", File: name, Message: err.Error()})
				it.index++
				continue
			}
			it.src = src
			it.offset = 0
		}

		batchSize := it.stream.opts.BatchSize
		t, err := it.src.Slice(ctx, it.offset, batchSize)
		if err != nil {
			it.advance()
			if ctx.Err() != nil {
				it.fail(err)
				return false
			}
			it.stream.opts.emit(ProgressEvent{Event: "error", File: name, Message: err.Error()})
			continue
		}

		n := t.Len()
		if n == 0 {
			it.advance()
			continue
		}
		it.batch = t.Rows()
		if n < batchSize {
			// File exhausted by a short batch: emit it and move on.
			it.advance()
		} else {
			it.offset += batchSize
		}
		return true
	}
}

// Batch is the batch produced by the last successful Next. Valid until the
// following Next call.
func (it *StreamIter) Batch() []tabular.Row { return it.batch }

// Err reports the fatal error that ended the iteration, nil after a clean
// run. Skipped files do not count; they surface as progress events only.
func (it *StreamIter) Err() error { return it.err }

// Close releases the open file, if any. Safe to call at any point and more
// than once.
func (it *StreamIter) Close() error {
	it.done = true
	it.batch = nil
	if it.src == nil {
		return nil
	}
	err := it.src.Close()
	it.src = nil
	return err
}

func (it *StreamIter) advance() {
	if it.src != nil {
		it.src.Close()
		it.src = nil
	}
	it.index++
	it.offset = 0
}

func (it *StreamIter) fail(err error) {
	it.err = err
	if it.src != nil {
		it.src.Close()
		it.src = nil
	}
	it.batch = nil
}

// open dispatches on repository kind and extension. Parquet opens lazily for
// both local paths and remote URLs; CSV and JSONL decode incrementally from
// disk, with remote files fetched whole into the cache first. Ranged reads
// over HTTP only pay off for parquet, the other formats have no row index to
// seek by.
func (s *Stream) open(ctx context.Context, name string) (tabular.Source, error) {
	ext := tabular.Extension(name)
	switch r := s.repo.(type) {
	case *LocalRepo:
		switch ext {
		case "parquet":
			return openParquetPath(s.opts.Engine, r.Path(name))
		case "csv", "jsonl":
			return s.readLocal(ext, r.Path(name))
		}
	case *RemoteRepo:
		switch ext {
		case "parquet":
			return s.openRemoteParquet(ctx, r, name)
		case "csv", "jsonl":
			p, err := r.Download(ctx, name, s.listing.Etags[name])
			if err != nil {
				return nil, err
			}
			return s.readLocal(ext, p)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, tabular.ErrUnsupported)
}

func (s *Stream) readLocal(ext, path string) (tabular.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var src tabular.Source
	if ext == "csv" {
		src, err = s.opts.Engine.OpenCSV(f)
	} else {
		src, err = s.opts.Engine.OpenJSONL(f)
	}
	if err != nil {
		f.Close()
		return nil, &DecodeError{File: path, Err: err}
	}
	return ownedSource{Source: src, f: f}, nil
}

func (s *Stream) openRemoteParquet(ctx context.Context, r *RemoteRepo, name string) (tabular.Source, error) {
	// Offline reads come from the cache like any other download.
	if r.opts.Offline.enabled() {
		p, err := r.Download(ctx, name, s.listing.Etags[name])
		if err != nil {
			return nil, err
		}
		return openParquetPath(s.opts.Engine, p)
	}

	u := r.ResolveURL(name)
	hdr := authHeader(r.opts.AuthToken)
	head, err := r.cache.Head(ctx, u, hdr)
	if err != nil {
		return nil, err
	}
	if head.Size <= 0 {
		// No usable length for ranged reads; fall back to a full fetch.
		p, err := r.Download(ctx, name, s.listing.Etags[name])
		if err != nil {
			return nil, err
		}
		return openParquetPath(s.opts.Engine, p)
	}
	if crossOrigin(u, head.URL) {
		hdr.Del("Authorization")
	}
	ra := &httpReaderAt{
		ctx:    ctx,
		client: r.cache.Client,
		url:    head.URL,
		header: hdr,
		size:   head.Size,
	}
	src, err := s.opts.Engine.OpenParquet(ra, head.Size)
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	return src, nil
}

func openParquetPath(engine Engine, path string) (tabular.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	src, err := engine.OpenParquet(f, st.Size())
	if err != nil {
		f.Close()
		return nil, &DecodeError{File: path, Err: err}
	}
	return ownedSource{Source: src, f: f}, nil
}

// ownedSource closes the backing file together with the source.
type ownedSource struct {
	tabular.Source
	f *os.File
}

func (o ownedSource) Close() error {
	err := o.Source.Close()
	if cerr := o.f.Close(); err == nil {
		err = cerr
	}
	return err
}
