// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bodaay/HuggingFaceDatasets/pkg/tabular"
)

// Dataset is the result of Load or Fetch: the selected files and, depending
// on the options, their local paths, materialized tables, or a restartable
// row stream.
type Dataset struct {
	Repo Repository
	// Files are the selected names in processing order.
	Files []string
	// Paths are the local locations of Files, aligned by index. Empty in
	// streaming mode, where nothing is fetched up front.
	Paths []string
	// Tables holds one table per file, aligned with Files. Only Load in
	// non-streaming mode fills it.
	Tables []*tabular.Table
	// Stream is the lazy row source when streaming was requested.
	Stream *Stream
}

// NumRows is the total row count across materialized tables.
func (d *Dataset) NumRows() int {
	total := 0
	for _, t := range d.Tables {
		if t != nil {
			total += t.Len()
		}
	}
	return total
}

// Load lists the repository, filters by config and split, keeps the files
// with recognized extensions and materializes them: fetched with up to
// NumProc parallel downloads, then decoded with the same bound. Results keep
// listing order regardless of which download finishes first; the first error
// cancels the rest. With Options.Streaming the fetch and decode are deferred
// to the returned Stream instead.
func Load(ctx context.Context, repo Repository, opts Options) (*Dataset, error) {
	return load(ctx, repo, opts, true)
}

// Fetch is Load without the decode step: it downloads the selected files
// into the cache and returns their local paths. Dataset.Tables stays nil.
func Fetch(ctx context.Context, repo Repository, opts Options) (*Dataset, error) {
	return load(ctx, repo, opts, false)
}

// LoadDataset resolves pathOrID with NewRepository and loads it.
func LoadDataset(ctx context.Context, pathOrID string, opts Options) (*Dataset, error) {
	repo, err := NewRepository(pathOrID, opts)
	if err != nil {
		return nil, err
	}
	return Load(ctx, repo, opts)
}

// MustLoad is Load that panics on error. For examples and tooling.
func MustLoad(ctx context.Context, repo Repository, opts Options) *Dataset {
	d, err := Load(ctx, repo, opts)
	if err != nil {
		panic(err)
	}
	return d
}

func load(ctx context.Context, repo Repository, opts Options, decode bool) (*Dataset, error) {
	repo, o, err := effectiveRepo(repo, opts)
	if err != nil {
		return nil, err
	}

	listing, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	listing = listing.FilterConfigSplit(o.Name, o.Split)

	var files []string
	for _, n := range listing.Names {
		if supportedExtension(n) {
			files = append(files, n)
		}
	}
	for _, n := range files {
		o.emit(ProgressEvent{Event: "plan_item", File: n, Total: listing.Sizes[n]})
	}

	d := &Dataset{Repo: repo, Files: files}
	if o.Streaming {
		d.Stream = newStream(repo, listing, files, o)
		return d, nil
	}

	d.Paths, err = fetchAll(ctx, repo, listing, files, o)
	if err != nil {
		return nil, err
	}
	if decode {
		d.Tables, err = decodeAll(ctx, files, d.Paths, o)
		if err != nil {
			return nil, err
		}
	}
	o.emit(ProgressEvent{Event: "done", Rows: d.NumRows()})
	return d, nil
}

// effectiveRepo folds Load-level options into the handle. A remote handle
// carries its own normalized options as the base; fields set on the call
// win, and the handle is rebuilt so revision and endpoint stay coherent.
func effectiveRepo(repo Repository, opts Options) (Repository, Options, error) {
	switch r := repo.(type) {
	case *RemoteRepo:
		merged, err := r.opts.merge(opts).normalize()
		if err != nil {
			return nil, Options{}, err
		}
		return newRemote(r.ID, merged), merged, nil
	case *LocalRepo:
		o, err := opts.normalize()
		if err != nil {
			return nil, Options{}, err
		}
		return r, o, nil
	default:
		return nil, Options{}, &ArgumentError{Field: "repository", Reason: "unknown repository type"}
	}
}

// fetchAll materializes every file locally, in parallel for remote
// repositories. The returned paths are aligned with files.
func fetchAll(ctx context.Context, repo Repository, listing *FileListing, files []string, o Options) ([]string, error) {
	paths := make([]string, len(files))
	r, ok := repo.(*RemoteRepo)
	if !ok {
		local := repo.(*LocalRepo)
		for i, n := range files {
			paths[i] = local.Path(n)
		}
		return paths, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.NumProc)
	for i, n := range files {
		g.Go(func() error {
			o.emit(ProgressEvent{Event: "file_start", File: n, Total: listing.Sizes[n]})
			p, err := r.Download(gctx, n, listing.Etags[n])
			if err != nil {
				o.emit(ProgressEvent{Event: "error", File: n, Message: err.Error()})
				return fmt.Errorf("%s: %w", n, err)
			}
			paths[i] = p
			o.emit(ProgressEvent{Event: "file_done", File: n, Total: listing.Sizes[n]})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// decodeAll turns fetched files into tables with the same concurrency bound
// and ordering guarantees as the fetch.
func decodeAll(ctx context.Context, files, paths []string, o Options) ([]*tabular.Table, error) {
	tables := make([]*tabular.Table, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.NumProc)
	for i, n := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := o.Engine.DecodeFile(paths[i])
			if err != nil {
				derr := &DecodeError{File: n, Err: err}
				o.emit(ProgressEvent{Event: "error", File: n, Message: derr.Error()})
				return derr
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}
