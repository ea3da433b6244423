// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"net/http"
	"path"
	"strings"
)

// DownloadMode controls how the cache treats entries that already exist.
type DownloadMode string

const (
	// ReuseIfExists returns cached content when its etag still matches.
	ReuseIfExists DownloadMode = "reuse_if_exists"
	// ForceRedownload drops the cached entry for a URL before fetching.
	ForceRedownload DownloadMode = "force_redownload"
)

// VerificationMode controls how much checking the cache performs on entries.
type VerificationMode string

const (
	// BasicChecks verifies content-file presence and, when known, size.
	BasicChecks VerificationMode = "basic_checks"
	// NoChecks trusts cache metadata without touching the content file.
	NoChecks VerificationMode = "no_checks"
)

// OfflineMode selects where the offline switch comes from. The zero value
// defers to the DATASETS_OFFLINE environment variable; the explicit values
// override it in either direction.
type OfflineMode int

const (
	OfflineAuto OfflineMode = iota
	OfflineEnabled
	OfflineDisabled
)

func (m OfflineMode) enabled() bool {
	switch m {
	case OfflineEnabled:
		return true
	case OfflineDisabled:
		return false
	default:
		return IsOfflineEnv()
	}
}

// ProgressFunc receives progress events during listing, fetching and
// decoding. Callbacks must be fast; they are invoked inline.
type ProgressFunc func(ProgressEvent)

// ProgressEvent is a single progress notification. Event is one of
// "plan_item", "file_start", "file_progress", "file_done", "retry", "error",
// "done".
type ProgressEvent struct {
	Event      string `json:"event"`
	File       string `json:"file,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`      // delta since last event
	Downloaded int64  `json:"downloaded,omitempty"` // cumulative bytes
	Total      int64  `json:"total,omitempty"`      // expected bytes, 0 if unknown
	Rows       int    `json:"rows,omitempty"`       // rows in a decoded table
	Message    string `json:"message,omitempty"`
}

// Options is the single option bag shared by repository handles and Load.
// The zero value is usable: every field has a default, applied during
// normalization. Handle-level options act as a base; options passed to Load
// override them field by field where set.
type Options struct {
	// Revision is the git revision to read, "main" by default.
	Revision string
	// Subdir restricts listing and fetching to a path prefix inside the
	// repository. Stripped from listed names, re-added on download.
	Subdir string
	// CacheDir is the cache root. Defaults to DefaultCacheDir().
	CacheDir string
	// Endpoint is the hub base URL. Defaults to HF_ENDPOINT or the public
	// hub.
	Endpoint string
	// AuthToken is the bearer token. Defaults to HF_TOKEN. Tokens without
	// the "hf_" prefix are treated as absent.
	AuthToken string
	// Offline suppresses all network I/O when enabled.
	Offline OfflineMode
	// DownloadMode defaults to ReuseIfExists.
	DownloadMode DownloadMode
	// VerificationMode defaults to BasicChecks.
	VerificationMode VerificationMode
	// Etag, when set, lets the cache return a matching entry without any
	// network round trip.
	Etag string

	// Name keeps only files whose name contains this configuration name.
	Name string
	// Split keeps only files whose extension-less basename contains this
	// split name.
	Split string
	// Streaming returns a lazy row stream instead of materialized tables.
	Streaming bool
	// BatchSize is the number of rows per streamed batch. Default 1000.
	BatchSize int
	// NumProc bounds fetch and decode parallelism. Default 1.
	NumProc int

	// MaxRetries is the number of retries after a failed transfer. Default 3.
	MaxRetries int
	// MultipartThreshold is the size in bytes above which downloads use
	// ranged parts. 0 means the default (64 MiB); negative disables
	// multipart entirely.
	MultipartThreshold int64

	// HTTPClient is used for all requests when set. Defaults to a shared
	// client with sane transport settings.
	HTTPClient *http.Client
	// Engine decodes tabular files. Defaults to the pkg/tabular readers.
	Engine Engine
	// Progress receives progress events. Optional.
	Progress ProgressFunc
}

// DefaultOptions returns the option bag with every default made explicit.
func DefaultOptions() Options {
	return Options{
		Revision:           "main",
		Endpoint:           DefaultEndpoint,
		DownloadMode:       ReuseIfExists,
		VerificationMode:   BasicChecks,
		BatchSize:          DefaultBatchSize,
		NumProc:            1,
		MaxRetries:         defaultRetries,
		MultipartThreshold: DefaultMultipartThreshold,
	}
}

// normalize applies defaults and validates enumerations and ranges. Invalid
// values surface as *ArgumentError before any I/O happens.
func (o Options) normalize() (Options, error) {
	if o.Revision == "" {
		o.Revision = "main"
	}
	if o.Endpoint == "" {
		o.Endpoint = endpointFromEnv()
	}
	o.Endpoint = strings.TrimRight(o.Endpoint, "/")
	if o.CacheDir == "" {
		o.CacheDir = DefaultCacheDir()
	}
	if o.AuthToken == "" {
		o.AuthToken = envToken()
	} else if !strings.HasPrefix(o.AuthToken, "hf_") {
		o.AuthToken = ""
	}
	if o.Subdir != "" {
		s := strings.Trim(path.Clean(o.Subdir), "/")
		if s == ".." || strings.HasPrefix(s, "../") || path.IsAbs(o.Subdir) {
			return o, &ArgumentError{Field: "Subdir", Reason: "must be a relative path inside the repository"}
		}
		if s == "." {
			s = ""
		}
		o.Subdir = s
	}
	switch o.DownloadMode {
	case "":
		o.DownloadMode = ReuseIfExists
	case ReuseIfExists, ForceRedownload:
	default:
		return o, &ArgumentError{Field: "DownloadMode", Reason: "must be reuse_if_exists or force_redownload"}
	}
	switch o.VerificationMode {
	case "":
		o.VerificationMode = BasicChecks
	case BasicChecks, NoChecks:
	default:
		return o, &ArgumentError{Field: "VerificationMode", Reason: "must be basic_checks or no_checks"}
	}
	switch o.Offline {
	case OfflineAuto, OfflineEnabled, OfflineDisabled:
	default:
		return o, &ArgumentError{Field: "Offline", Reason: "unknown offline mode"}
	}
	if o.BatchSize < 0 {
		return o, &ArgumentError{Field: "BatchSize", Reason: "must be positive"}
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.NumProc < 0 {
		return o, &ArgumentError{Field: "NumProc", Reason: "must be positive"}
	}
	if o.NumProc == 0 {
		o.NumProc = 1
	}
	if o.MaxRetries < 0 {
		return o, &ArgumentError{Field: "MaxRetries", Reason: "must not be negative"}
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultRetries
	}
	if o.MultipartThreshold == 0 {
		o.MultipartThreshold = DefaultMultipartThreshold
	}
	if o.HTTPClient == nil {
		o.HTTPClient = defaultClient
	}
	if o.Engine == nil {
		o.Engine = DefaultEngine
	}
	return o, nil
}

// merge overlays non-zero fields of over onto o. Used when Load-level options
// refine a handle's options.
func (o Options) merge(over Options) Options {
	if over.Revision != "" {
		o.Revision = over.Revision
	}
	if over.Subdir != "" {
		o.Subdir = over.Subdir
	}
	if over.CacheDir != "" {
		o.CacheDir = over.CacheDir
	}
	if over.Endpoint != "" {
		o.Endpoint = over.Endpoint
	}
	if over.AuthToken != "" {
		o.AuthToken = over.AuthToken
	}
	if over.Offline != OfflineAuto {
		o.Offline = over.Offline
	}
	if over.DownloadMode != "" {
		o.DownloadMode = over.DownloadMode
	}
	if over.VerificationMode != "" {
		o.VerificationMode = over.VerificationMode
	}
	if over.Etag != "" {
		o.Etag = over.Etag
	}
	if over.Name != "" {
		o.Name = over.Name
	}
	if over.Split != "" {
		o.Split = over.Split
	}
	if over.Streaming {
		o.Streaming = true
	}
	if over.BatchSize != 0 {
		o.BatchSize = over.BatchSize
	}
	if over.NumProc != 0 {
		o.NumProc = over.NumProc
	}
	if over.MaxRetries != 0 {
		o.MaxRetries = over.MaxRetries
	}
	if over.MultipartThreshold != 0 {
		o.MultipartThreshold = over.MultipartThreshold
	}
	if over.HTTPClient != nil {
		o.HTTPClient = over.HTTPClient
	}
	if over.Engine != nil {
		o.Engine = over.Engine
	}
	if over.Progress != nil {
		o.Progress = over.Progress
	}
	return o
}

func (o Options) emit(ev ProgressEvent) {
	if o.Progress != nil {
		o.Progress(ev)
	}
}
