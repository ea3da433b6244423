// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"crypto/md5"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache is a content-addressed download cache over hub-resolved URLs. An
// entry is a metadata file <enc(url)>.json holding {"etag","url"} next to a
// content file <enc(url)>.<enc(etag)>. Both names are pure functions of the
// URL and the etag, so concurrent writers converge on identical files and a
// rename race is harmless.
type Cache struct {
	// Dir is the cache root; entries live under Dir/huggingface[/scope].
	Dir string
	// Client performs all requests. Injected so tests can substitute it.
	Client *http.Client

	group singleflight.Group
}

// NewCache builds a cache rooted at dir. Empty arguments fall back to
// DefaultCacheDir and a shared default client.
func NewCache(dir string, client *http.Client) *Cache {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	if client == nil {
		client = defaultClient
	}
	return &Cache{Dir: dir, Client: client}
}

// CacheOptions carries the per-call policy for Cache.Download.
type CacheOptions struct {
	// Scope namespaces entries per repository (see CacheScope).
	Scope string
	// Token is sent as a bearer header and stripped on cross-origin
	// redirects.
	Token string
	// Etag, when set, short-circuits to a matching cached entry without any
	// network traffic.
	Etag             string
	Offline          OfflineMode
	DownloadMode     DownloadMode
	VerificationMode VerificationMode
	// MaxRetries bounds retries of the content fetch. 0 means the default,
	// negative disables retries.
	MaxRetries int
	// MultipartThreshold switches large fetches to ranged parts. 0 means
	// the default, negative disables.
	MultipartThreshold int64
	// Events receives file_progress and retry events with File set to the
	// URL being fetched. Optional.
	Events ProgressFunc
}

func (o CacheOptions) event(ev ProgressEvent) {
	if o.Events != nil {
		o.Events(ev)
	}
}

// HeadResult is the outcome of the HEAD probe: the strong validator, the URL
// the content actually lives at, and whether a redirect was followed to get
// there.
type HeadResult struct {
	Etag       string
	URL        string
	Redirected bool
	// Size is the expected content size, 0 when unknown. For LFS pointers
	// the x-linked-size header wins over Content-Length.
	Size int64
	// AcceptRanges reports whether the final host serves byte ranges.
	AcceptRanges bool
	// Commit is the x-repo-commit header, when the hub sent one.
	Commit string
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeURL derives the cache filename stem for a URL: lowercase unpadded
// base32 of the MD5 of the URL bytes.
func EncodeURL(u string) string {
	sum := md5.Sum([]byte(u))
	return strings.ToLower(b32.EncodeToString(sum[:]))
}

// EncodeEtag derives the content-file suffix for an etag: lowercase unpadded
// base32 of the etag bytes, surrounding quotes included.
func EncodeEtag(etag string) string {
	return strings.ToLower(b32.EncodeToString([]byte(etag)))
}

// cacheMeta is the JSON body of a metadata file.
type cacheMeta struct {
	Etag string `json:"etag"`
	URL  string `json:"url"`
}

func (c *Cache) scopeDir(scope string) string {
	if scope == "" {
		return filepath.Join(c.Dir, "huggingface")
	}
	return filepath.Join(c.Dir, "huggingface", scope)
}

// Download returns a local path holding the bytes of rawURL, fetching them
// unless a cached entry with a matching etag already exists. See the package
// documentation for the on-disk layout. A failed fetch rolls the entry back
// to absent: no metadata file, no partial content.
func (c *Cache) Download(ctx context.Context, rawURL string, o CacheOptions) (string, error) {
	dir := c.scopeDir(o.Scope)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	urlKey := EncodeURL(rawURL)
	metaPath := filepath.Join(dir, urlKey+".json")

	if o.DownloadMode == ForceRedownload {
		if meta, err := readMeta(metaPath); err == nil {
			os.Remove(filepath.Join(dir, urlKey+"."+EncodeEtag(meta.Etag)))
		}
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			return "", err
		}
	}

	if o.Offline.enabled() {
		meta, err := readMeta(metaPath)
		if err != nil {
			return "", &OfflineError{URL: rawURL}
		}
		content := filepath.Join(dir, urlKey+"."+EncodeEtag(meta.Etag))
		if o.VerificationMode == NoChecks || fileExists(content) {
			return content, nil
		}
		return "", &OfflineError{URL: rawURL}
	}

	// Caller-supplied etag: serve a matching entry without touching the
	// network. A claimed-but-missing content file falls through to a fresh
	// probe.
	if o.Etag != "" {
		if meta, err := readMeta(metaPath); err == nil && meta.Etag == o.Etag {
			content := filepath.Join(dir, urlKey+"."+EncodeEtag(meta.Etag))
			if fileExists(content) {
				return content, nil
			}
		}
	}

	hdr := authHeader(o.Token)
	head, err := c.Head(ctx, rawURL, hdr)
	if err != nil {
		return "", err
	}
	content := filepath.Join(dir, urlKey+"."+EncodeEtag(head.Etag))

	if fileExists(content) {
		// HEAD-only hit. Repair the metadata if it is missing or points at
		// a different etag.
		if meta, err := readMeta(metaPath); err != nil || meta.Etag != head.Etag {
			if err := writeMetaAtomic(metaPath, cacheMeta{Etag: head.Etag, URL: rawURL}); err != nil {
				return "", err
			}
		}
		return content, nil
	}

	// One in-flight fetch per content path; concurrent callers share the
	// result.
	_, err, _ = c.group.Do(content, func() (any, error) {
		return nil, c.fetch(ctx, rawURL, head, hdr, metaPath, content, o)
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Cache) fetch(ctx context.Context, rawURL string, head *HeadResult, hdr http.Header, metaPath, content string, o CacheOptions) error {
	if fileExists(content) {
		return nil
	}

	getHdr := hdr.Clone()
	if crossOrigin(rawURL, head.URL) {
		getHdr.Del("Authorization")
	}

	expected := head.Size
	if o.VerificationMode == NoChecks {
		expected = 0
	}

	var done atomic.Int64
	report := func(delta int64) {
		o.event(ProgressEvent{
			Event:      "file_progress",
			File:       rawURL,
			Bytes:      delta,
			Downloaded: done.Add(delta),
			Total:      head.Size,
		})
	}

	retries := o.MaxRetries
	if retries == 0 {
		retries = defaultRetries
	} else if retries < 0 {
		retries = 0
	}
	bo := newBackoff()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			o.event(ProgressEvent{
				Event:   "retry",
				File:    rawURL,
				Message: fmt.Sprintf("attempt %d/%d: %v", attempt+1, retries+1, lastErr),
			})
			if !sleepCtx(ctx, bo.Next()) {
				lastErr = ctx.Err()
				break
			}
			done.Store(0)
		}

		var err error
		if useMultipart(o.MultipartThreshold, head) {
			_, err = downloadMultipart(ctx, c.Client, head.URL, getHdr, content, head.Size, report)
		} else {
			_, err = downloadToFile(ctx, c.Client, head.URL, getHdr, content, expected, report)
		}
		if err == nil {
			if werr := writeMetaAtomic(metaPath, cacheMeta{Etag: head.Etag, URL: rawURL}); werr != nil {
				os.Remove(content)
				os.Remove(metaPath)
				return werr
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}

	// Roll back to absent so readers never see a metadata file whose
	// content is gone.
	os.Remove(content)
	os.Remove(metaPath)
	return lastErr
}

// Head probes a URL with redirects disabled and follows them by hand:
// same-origin Locations (no host component) keep the original headers while
// cross-origin hops drop Authorization so credentials never reach a
// third-party CDN. The etag prefers x-linked-etag over etag and is kept
// verbatim, quotes included.
func (c *Cache) Head(ctx context.Context, rawURL string, hdr http.Header) (*HeadResult, error) {
	const maxRedirects = 5

	client := noRedirect(c.Client)
	if hdr == nil {
		hdr = http.Header{}
	} else {
		hdr = hdr.Clone()
	}
	// Compressed HEADs report the encoded size; ask for identity.
	hdr.Set("Accept-Encoding", "identity")

	cur := rawURL
	redirected := false
	for hop := 0; hop <= maxRedirects; hop++ {
		resp, err := doRequest(ctx, client, http.MethodHead, cur, hdr)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return nil, &HTTPError{StatusCode: resp.StatusCode, URL: cur, Message: "redirect without a location header"}
			}
			next, err := url.Parse(loc)
			if err != nil {
				return nil, &ParseError{What: "redirect location", Err: err}
			}
			base, err := url.Parse(cur)
			if err != nil {
				return nil, &ParseError{What: "request url", Err: err}
			}
			if next.Host == "" {
				// Same-origin: swap the path, keep everything else
				// (Authorization included).
				nu := *base
				nu.Path = next.Path
				if next.RawQuery != "" {
					nu.RawQuery = next.RawQuery
				}
				cur = nu.String()
			} else {
				if next.Scheme == "" {
					next.Scheme = base.Scheme
				}
				hdr.Del("Authorization")
				cur = next.String()
			}
			redirected = true
			continue
		}

		if err := statusErr(resp); err != nil {
			return nil, err
		}

		etag := resp.Header.Get("X-Linked-Etag")
		linked := etag != ""
		if etag == "" {
			etag = resp.Header.Get("ETag")
		}
		if etag == "" {
			return nil, fmt.Errorf("head %s: %w", rawURL, ErrNoEtag)
		}
		size := resp.ContentLength
		if size < 0 {
			size = 0
		}
		if linked {
			if v, err := strconv.ParseInt(resp.Header.Get("X-Linked-Size"), 10, 64); err == nil && v > 0 {
				size = v
			}
		}
		return &HeadResult{
			Etag:         etag,
			URL:          cur,
			Redirected:   redirected,
			Size:         size,
			AcceptRanges: strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes"),
			Commit:       resp.Header.Get("X-Repo-Commit"),
		}, nil
	}
	return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("stopped after %d redirects", maxRedirects)}
}

func useMultipart(threshold int64, head *HeadResult) bool {
	if threshold < 0 {
		return false
	}
	if threshold == 0 {
		threshold = DefaultMultipartThreshold
	}
	return head.AcceptRanges && head.Size >= threshold
}

func crossOrigin(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return true
	}
	return ua.Host != ub.Host
}

// readMeta loads and validates a metadata file. Any failure (missing file,
// torn write, empty etag) means the entry is treated as absent.
func readMeta(path string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, &ParseError{What: "cache metadata", Err: err}
	}
	if meta.Etag == "" {
		return meta, &ParseError{What: "cache metadata", Err: fmt.Errorf("missing etag in %s", path)}
	}
	return meta, nil
}

// writeMetaAtomic writes metadata via a temp file and rename so readers see
// either the old entry or the new one, never a torn write.
func writeMetaAtomic(path string, meta cacheMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
