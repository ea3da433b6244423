// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Repository points at a dataset, on the hub or on the local filesystem. The
// set is closed: RemoteRepo and LocalRepo are the only implementations, so a
// type switch over the two covers every case.
type Repository interface {
	// List enumerates the repository's data files in a stable order.
	List(ctx context.Context) (*FileListing, error)
	// CacheScope is the cache namespace for this repository, "" when its
	// content never touches the cache.
	CacheScope() string
	String() string

	sealed()
}

// FileListing is what List returns: names in listing order (the processing
// order everywhere downstream), plus validators and sizes where the source
// knows them.
type FileListing struct {
	Names []string
	// Etags maps name to its quote-wrapped validator, "" when unknown.
	Etags map[string]string
	// Sizes maps name to the expected byte size, 0 when unknown.
	Sizes map[string]int64
}

// NewRepository classifies pathOrID: an existing directory becomes a
// LocalRepo, a valid "owner/name" id becomes a RemoteRepo, anything else is
// an argument error.
func NewRepository(pathOrID string, opts Options) (Repository, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(pathOrID); err == nil && st.IsDir() {
		dir := pathOrID
		if opts.Subdir != "" {
			dir = filepath.Join(dir, filepath.FromSlash(opts.Subdir))
		}
		return &LocalRepo{Dir: dir}, nil
	}
	if !IsValidRepoID(pathOrID) {
		return nil, &ArgumentError{
			Field:  "repository",
			Reason: fmt.Sprintf("%q is neither a directory nor an owner/name id", pathOrID),
			Err:    ErrInvalidRepo,
		}
	}
	return newRemote(pathOrID, opts), nil
}

// Remote builds a hub repository handle. Options are normalized once here
// and reused by every operation on the handle.
func Remote(repoID string, opts Options) (*RemoteRepo, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if !IsValidRepoID(repoID) {
		return nil, &ArgumentError{
			Field:  "repository",
			Reason: fmt.Sprintf("%q is not an owner/name id", repoID),
			Err:    ErrInvalidRepo,
		}
	}
	return newRemote(repoID, opts), nil
}

func newRemote(repoID string, opts Options) *RemoteRepo {
	return &RemoteRepo{
		ID:       repoID,
		Revision: opts.Revision,
		Subdir:   opts.Subdir,
		opts:     opts,
		cache:    NewCache(opts.CacheDir, opts.HTTPClient),
	}
}

// Local wraps a dataset directory on the local filesystem.
func Local(dir string) *LocalRepo {
	return &LocalRepo{Dir: dir}
}

// RemoteRepo is a dataset hosted on the hub.
type RemoteRepo struct {
	// ID is the "owner/name" repository id.
	ID string
	// Revision is the git revision being read.
	Revision string
	// Subdir restricts the handle to one directory of the repository.
	Subdir string

	opts  Options
	cache *Cache
}

func (r *RemoteRepo) sealed() {}

func (r *RemoteRepo) String() string {
	s := r.ID + "@" + r.Revision
	if r.Subdir != "" {
		s += "/" + r.Subdir
	}
	return s
}

// CacheScope derives the cache namespace from the repository id.
func (r *RemoteRepo) CacheScope() string { return CacheScope(r.ID) }

// treeEntry is one element of the hub tree listing. For LFS pointers the
// nested lfs object carries the content oid and size.
type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	OID  string `json:"oid"`
	LFS  *struct {
		OID  string `json:"oid"`
		Size int64  `json:"size"`
	} `json:"lfs"`
}

// List fetches the tree listing through the cache and keeps the file
// entries. Directory entries are dropped and the subdir prefix is stripped,
// so the names line up with what Download takes. The per-file etag is the
// quote-wrapped content oid, preferring the LFS oid over the git one.
func (r *RemoteRepo) List(ctx context.Context) (*FileListing, error) {
	co := r.cacheOptions("")
	// Listings refresh through the etag check; force mode applies to file
	// content, not to the listing itself.
	co.DownloadMode = ReuseIfExists
	p, err := r.cache.Download(ctx, treeURL(r.opts.Endpoint, r.ID, r.Revision, r.Subdir), co)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var entries []treeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ParseError{What: "tree listing", Err: err}
	}

	prefix := ""
	if r.Subdir != "" {
		prefix = r.Subdir + "/"
	}
	listing := &FileListing{
		Etags: make(map[string]string, len(entries)),
		Sizes: make(map[string]int64, len(entries)),
	}
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		name := strings.TrimPrefix(e.Path, prefix)
		oid := e.OID
		size := e.Size
		if e.LFS != nil {
			if e.LFS.OID != "" {
				oid = e.LFS.OID
			}
			if e.LFS.Size > 0 {
				size = e.LFS.Size
			}
		}
		etag := ""
		if oid != "" {
			etag = `"` + oid + `"`
		}
		listing.Names = append(listing.Names, name)
		listing.Etags[name] = etag
		listing.Sizes[name] = size
	}
	return listing, nil
}

// ResolveURL is the content URL a file resolves to at this revision.
func (r *RemoteRepo) ResolveURL(name string) string {
	full := name
	if r.Subdir != "" {
		full = r.Subdir + "/" + name
	}
	return resolveURL(r.opts.Endpoint, r.ID, r.Revision, full)
}

// Download fetches one file through the cache and returns its local path.
// The etag, when known from a listing, enables the no-network fast path.
func (r *RemoteRepo) Download(ctx context.Context, name, etag string) (string, error) {
	return r.cache.Download(ctx, r.ResolveURL(name), r.cacheOptions(etag))
}

func (r *RemoteRepo) cacheOptions(etag string) CacheOptions {
	return CacheOptions{
		Scope:              r.CacheScope(),
		Token:              r.opts.AuthToken,
		Etag:               etag,
		Offline:            r.opts.Offline,
		DownloadMode:       r.opts.DownloadMode,
		VerificationMode:   r.opts.VerificationMode,
		MaxRetries:         r.opts.MaxRetries,
		MultipartThreshold: r.opts.MultipartThreshold,
		Events:             r.opts.Progress,
	}
}

// LocalRepo is a dataset directory on the local filesystem. Files are read
// in place; nothing is cached and no validators exist.
type LocalRepo struct {
	Dir string
}

func (r *LocalRepo) sealed() {}

func (r *LocalRepo) String() string { return r.Dir }

// CacheScope is empty: local content never touches the cache.
func (r *LocalRepo) CacheScope() string { return "" }

// List returns the regular files directly inside Dir, sorted by name.
func (r *LocalRepo) List(ctx context.Context) (*FileListing, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, err
	}
	listing := &FileListing{
		Etags: make(map[string]string, len(entries)),
		Sizes: make(map[string]int64, len(entries)),
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		listing.Names = append(listing.Names, name)
		listing.Etags[name] = ""
		if info, err := e.Info(); err == nil {
			listing.Sizes[name] = info.Size()
		}
	}
	return listing, nil
}

// Path is the absolute location of a listed file.
func (r *LocalRepo) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

var scopeStrip = regexp.MustCompile(`[^\w\-]`)

// CacheScope converts a repository id into a directory-safe cache namespace:
// "/" becomes "--", any other character outside [A-Za-z0-9_-] is dropped.
func CacheScope(repoID string) string {
	return scopeStrip.ReplaceAllString(strings.ReplaceAll(repoID, "/", "--"), "")
}
