// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const userAgent = "hfdatasets/1"

// buildHTTPClient creates an HTTP client with sensible defaults. No overall
// timeout: large files take as long as they take, callers cancel via context.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

var defaultClient = buildHTTPClient()

// noRedirect copies a client and disables redirect following, so the cache
// can apply its own redirect policy.
func noRedirect(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}

// addAuth adds authentication and user-agent headers to a request.
func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", userAgent)
}

// authHeader builds the base header set for hub requests.
func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("User-Agent", userAgent)
	return h
}

// URL builders. All accept an endpoint to support mirrors; repo ids contain
// a "/" that must stay literal.

func resolveURL(endpoint, repoID, revision, filename string) string {
	return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", endpoint, repoID, url.PathEscape(revision), pathEscapeAll(filename))
}

func treeURL(endpoint, repoID, revision, subdir string) string {
	if subdir == "" {
		return fmt.Sprintf("%s/api/datasets/%s/tree/%s", endpoint, repoID, url.PathEscape(revision))
	}
	return fmt.Sprintf("%s/api/datasets/%s/tree/%s/%s", endpoint, repoID, url.PathEscape(revision), pathEscapeAll(subdir))
}

func infoURL(endpoint, repoID string) string {
	return fmt.Sprintf("%s/api/datasets/%s", endpoint, repoID)
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// doRequest performs one request with the given headers. Transport failures
// come back as *NetworkError; the response status is not inspected here.
func doRequest(ctx context.Context, client *http.Client, method, rawURL string, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &ArgumentError{Field: "url", Reason: err.Error()}
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	return resp, nil
}

// statusErr maps a response status and its x-error-code header onto the
// error taxonomy. Statuses in [100,400) map to nil.
func statusErr(resp *http.Response) error {
	u := resp.Request.URL.String()
	code := resp.Header.Get("X-Error-Code")
	switch code {
	case "RepoNotFound":
		return &RepoNotFoundError{URL: u}
	case "GatedRepo":
		return &GatedRepoError{URL: u}
	case "RevisionNotFound":
		return &RevisionNotFoundError{URL: u}
	case "EntryNotFound":
		return &EntryNotFoundError{URL: u}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return &RepoNotFoundError{URL: u}
	}
	if resp.StatusCode >= 100 && resp.StatusCode < 400 {
		return nil
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        u,
		ErrorCode:  code,
		Message:    resp.Header.Get("X-Error-Message"),
	}
}

// progressReader reports read progress through a callback, throttled so the
// callback does not dominate small-read workloads.
type progressReader struct {
	r        io.Reader
	report   func(delta int64)
	pending  int64
	lastTick time.Time
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.pending += int64(n)
		now := time.Now()
		if now.Sub(p.lastTick) >= 200*time.Millisecond || err != nil {
			p.report(p.pending)
			p.pending = 0
			p.lastTick = now
		}
	}
	if err != nil && p.pending > 0 {
		p.report(p.pending)
		p.pending = 0
	}
	return n, err
}

// downloadToFile GETs a URL into dest. The body is staged under a unique
// temporary name in dest's directory and renamed into place, so a failure
// never leaves a partial file visible. expectedSize > 0 is verified before
// the rename.
func downloadToFile(ctx context.Context, client *http.Client, rawURL string, hdr http.Header, dest string, expectedSize int64, report func(delta int64)) (int64, error) {
	resp, err := doRequest(ctx, client, http.MethodGet, rawURL, hdr)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	var r io.Reader = resp.Body
	if report != nil {
		r = &progressReader{r: resp.Body, report: report}
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, &NetworkError{URL: rawURL, Err: err}
	}
	if expectedSize > 0 && n != expectedSize {
		cleanup()
		return 0, &NetworkError{URL: rawURL, Err: fmt.Errorf("size mismatch: got %d bytes, expected %d", n, expectedSize)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

const (
	multipartParts    = 4
	minMultipartChunk = 8 << 20
)

// downloadMultipart fetches a URL of known size in ranged parts written at
// their offsets in one staged file, then renames it into place. The server
// must have advertised Accept-Ranges: bytes.
func downloadMultipart(ctx context.Context, client *http.Client, rawURL string, hdr http.Header, dest string, size int64, report func(delta int64)) (int64, error) {
	parts := int64(multipartParts)
	if size/parts < minMultipartChunk {
		parts = size/minMultipartChunk + 1
	}
	if parts <= 1 {
		return downloadToFile(ctx, client, rawURL, hdr, dest, size, report)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if err := tmp.Truncate(size); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}

	chunk := size / parts
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < parts; i++ {
		start := i * chunk
		end := start + chunk - 1
		if i == parts-1 {
			end = size - 1
		}
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return err
			}
			for k, vs := range hdr {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
			resp, err := client.Do(req)
			if err != nil {
				return &NetworkError{URL: rawURL, Err: err}
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusPartialContent {
				return &HTTPError{StatusCode: resp.StatusCode, URL: rawURL, Message: "expected partial content for ranged request"}
			}
			var r io.Reader = resp.Body
			if report != nil {
				r = &progressReader{r: resp.Body, report: report}
			}
			n, err := io.Copy(io.NewOffsetWriter(tmp, start), r)
			if err != nil {
				return &NetworkError{URL: rawURL, Err: err}
			}
			if n != end-start+1 {
				return &NetworkError{URL: rawURL, Err: fmt.Errorf("part %d-%d: short body (%d bytes)", start, end, n)}
			}
			written.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return written.Load(), nil
}

// httpReaderAt adapts ranged GETs to io.ReaderAt, which is what lets the
// parquet reader walk remote files without downloading them. The context is
// captured at construction because ReadAt carries none.
type httpReaderAt struct {
	ctx    context.Context
	client *http.Client
	url    string
	header http.Header
	size   int64
}

func (r *httpReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.size {
		want = r.size - off
	}
	if want == 0 {
		return 0, nil
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+want-1))
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, &NetworkError{URL: r.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0, &HTTPError{StatusCode: resp.StatusCode, URL: r.url, Message: "server ignored the range request"}
	}
	if resp.StatusCode != http.StatusPartialContent {
		if err := statusErr(resp); err != nil {
			return 0, err
		}
		return 0, &HTTPError{StatusCode: resp.StatusCode, URL: r.url, Message: "expected partial content"}
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, &NetworkError{URL: r.url, Err: err}
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// probeSize HEADs a URL (following redirects) for its content length.
func probeSize(ctx context.Context, client *http.Client, rawURL string, hdr http.Header) (int64, error) {
	resp, err := doRequest(ctx, client, http.MethodHead, rawURL, hdr)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return 0, err
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("no content length for %s", rawURL)
	}
	return resp.ContentLength, nil
}
