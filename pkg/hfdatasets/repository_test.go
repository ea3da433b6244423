// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// hermetic clears the environment knobs so ambient settings cannot leak into
// option normalization.
func hermetic(t *testing.T) {
	t.Helper()
	t.Setenv(EnvToken, "")
	t.Setenv(EnvOffline, "")
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvCacheDir, "")
}

func TestCacheScope(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"user/dataset", "user--dataset"},
		{"org/data.set-v2", "org--dataset-v2"},
		{"weird!/na me", "weird--name"},
		{"plain", "plain"},
		{"Own_er/Na-me", "Own_er--Na-me"},
	}
	for _, tt := range tests {
		if got := CacheScope(tt.id); got != tt.want {
			t.Errorf("CacheScope(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNewRepository(t *testing.T) {
	hermetic(t)

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := NewRepository(dir, Options{})
		if err != nil {
			t.Fatal(err)
		}
		local, ok := repo.(*LocalRepo)
		if !ok {
			t.Fatalf("expected *LocalRepo, got %T", repo)
		}
		if local.Dir != dir {
			t.Errorf("Dir = %q, want %q", local.Dir, dir)
		}
	})

	t.Run("directory with subdir", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := NewRepository(dir, Options{Subdir: "data"})
		if err != nil {
			t.Fatal(err)
		}
		if got := repo.(*LocalRepo).Dir; got != filepath.Join(dir, "data") {
			t.Errorf("Dir = %q, want the subdir joined", got)
		}
	})

	t.Run("remote id", func(t *testing.T) {
		repo, err := NewRepository("owner/name", Options{CacheDir: t.TempDir()})
		if err != nil {
			t.Fatal(err)
		}
		remote, ok := repo.(*RemoteRepo)
		if !ok {
			t.Fatalf("expected *RemoteRepo, got %T", repo)
		}
		if remote.ID != "owner/name" || remote.Revision != "main" {
			t.Errorf("got ID=%q Revision=%q", remote.ID, remote.Revision)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, id := range []string{"not-a-repo", "a/b/c", "/leading", "trailing/", ""} {
			_, err := NewRepository(id, Options{CacheDir: t.TempDir()})
			if err == nil {
				t.Errorf("NewRepository(%q) should fail", id)
				continue
			}
			var ae *ArgumentError
			if !errors.As(err, &ae) {
				t.Errorf("NewRepository(%q): expected ArgumentError, got %v", id, err)
			}
			if !errors.Is(err, ErrInvalidRepo) {
				t.Errorf("NewRepository(%q): error should wrap ErrInvalidRepo", id)
			}
		}
	})
}

func TestRemote_OptionValidation(t *testing.T) {
	hermetic(t)
	tests := []struct {
		name string
		opts Options
	}{
		{"bad download mode", Options{DownloadMode: "sometimes"}},
		{"bad verification mode", Options{VerificationMode: "paranoid"}},
		{"negative batch size", Options{BatchSize: -1}},
		{"negative num proc", Options{NumProc: -2}},
		{"negative retries", Options{MaxRetries: -1}},
		{"subdir escape", Options{Subdir: "../up"}},
		{"absolute subdir", Options{Subdir: "/abs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.CacheDir = t.TempDir()
			_, err := Remote("owner/name", tt.opts)
			var ae *ArgumentError
			if !errors.As(err, &ae) {
				t.Errorf("expected ArgumentError, got %v", err)
			}
		})
	}
}

func TestLocalRepo_List(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("train.csv", "a,b\n1,2\n")
	write("test.csv", "a,b\n3,4\n")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	repo := Local(dir)
	listing, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"test.csv", "train.csv"} // lexical order
	if len(listing.Names) != len(want) {
		t.Fatalf("names = %v, want %v", listing.Names, want)
	}
	for i, n := range want {
		if listing.Names[i] != n {
			t.Errorf("names[%d] = %q, want %q", i, listing.Names[i], n)
		}
		if listing.Etags[n] != "" {
			t.Errorf("local etag for %q should be empty", n)
		}
		if listing.Sizes[n] == 0 {
			t.Errorf("size for %q not recorded", n)
		}
	}
	if p := repo.Path("train.csv"); p != filepath.Join(dir, "train.csv") {
		t.Errorf("Path = %q", p)
	}
}

func newTreeServer(t *testing.T, treePath, etag string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != treePath {
			w.Header().Set("X-Error-Code", "EntryNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteRepo_List(t *testing.T) {
	hermetic(t)
	tree := `[
		{"type":"file","path":"train.csv","size":100,"oid":"abc123"},
		{"type":"file","path":"data.parquet","size":12,"oid":"pointer","lfs":{"oid":"lfsoid456","size":5000}},
		{"type":"directory","path":"sub","size":0,"oid":"d1"}
	]`
	srv := newTreeServer(t, "/api/datasets/owner/name/tree/main", `"tree-v1"`, []byte(tree))

	repo, err := Remote("owner/name", Options{Endpoint: srv.URL, CacheDir: t.TempDir(), HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	listing, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"train.csv", "data.parquet"}
	if len(listing.Names) != len(want) {
		t.Fatalf("names = %v, want %v", listing.Names, want)
	}
	for i, n := range want {
		if listing.Names[i] != n {
			t.Errorf("names[%d] = %q, want %q (listing order must be preserved)", i, listing.Names[i], n)
		}
	}
	if got := listing.Etags["train.csv"]; got != `"abc123"` {
		t.Errorf(`etag for train.csv = %s, want "abc123" with quotes`, got)
	}
	if got := listing.Etags["data.parquet"]; got != `"lfsoid456"` {
		t.Errorf("etag for data.parquet = %s, want the lfs oid", got)
	}
	if got := listing.Sizes["data.parquet"]; got != 5000 {
		t.Errorf("size for data.parquet = %d, want the lfs size", got)
	}
	if got := listing.Sizes["train.csv"]; got != 100 {
		t.Errorf("size for train.csv = %d, want 100", got)
	}
}

func TestRemoteRepo_ListSubdir(t *testing.T) {
	hermetic(t)
	tree := `[{"type":"file","path":"data/train.csv","size":5,"oid":"o1"}]`
	srv := newTreeServer(t, "/api/datasets/owner/name/tree/main/data", `"tree-v2"`, []byte(tree))

	repo, err := Remote("owner/name", Options{
		Endpoint:   srv.URL,
		Subdir:     "data",
		CacheDir:   t.TempDir(),
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	listing, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Names) != 1 || listing.Names[0] != "train.csv" {
		t.Fatalf("names = %v, want the subdir prefix stripped", listing.Names)
	}
	if got, want := repo.ResolveURL("train.csv"), srv.URL+"/datasets/owner/name/resolve/main/data/train.csv"; got != want {
		t.Errorf("ResolveURL = %q, want %q", got, want)
	}
}

func TestRemoteRepo_ResolveURL(t *testing.T) {
	hermetic(t)
	repo, err := Remote("owner/name", Options{Endpoint: "https://huggingface.co", CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		file string
		want string
	}{
		{"train.csv", "https://huggingface.co/datasets/owner/name/resolve/main/train.csv"},
		{"dir/train file.csv", "https://huggingface.co/datasets/owner/name/resolve/main/dir/train%20file.csv"},
	}
	for _, tt := range tests {
		if got := repo.ResolveURL(tt.file); got != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}

	pr, err := Remote("owner/name", Options{
		Endpoint: "https://huggingface.co",
		Revision: "refs/pr/1",
		CacheDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pr.ResolveURL("f.csv"), "https://huggingface.co/datasets/owner/name/resolve/refs%2Fpr%2F1/f.csv"; got != want {
		t.Errorf("revision escaping: got %q, want %q", got, want)
	}
}

func TestRemoteRepo_ErrorMapping(t *testing.T) {
	hermetic(t)
	tests := []struct {
		name   string
		status int
		code   string
		check  func(error) bool
	}{
		{"x-error-code repo", http.StatusNotFound, "RepoNotFound", func(err error) bool {
			var e *RepoNotFoundError
			return errors.As(err, &e)
		}},
		{"unauthorized", http.StatusUnauthorized, "", func(err error) bool {
			var e *RepoNotFoundError
			return errors.As(err, &e)
		}},
		{"gated", http.StatusForbidden, "GatedRepo", func(err error) bool {
			var e *GatedRepoError
			return errors.As(err, &e)
		}},
		{"revision", http.StatusNotFound, "RevisionNotFound", func(err error) bool {
			var e *RevisionNotFoundError
			return errors.As(err, &e)
		}},
		{"entry", http.StatusNotFound, "EntryNotFound", func(err error) bool {
			var e *EntryNotFoundError
			return errors.As(err, &e)
		}},
		{"server error", http.StatusInternalServerError, "", func(err error) bool {
			var e *HTTPError
			return errors.As(err, &e) && e.StatusCode == http.StatusInternalServerError
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.code != "" {
					w.Header().Set("X-Error-Code", tt.code)
				}
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			repo, err := Remote("owner/name", Options{Endpoint: srv.URL, CacheDir: t.TempDir(), HTTPClient: srv.Client()})
			if err != nil {
				t.Fatal(err)
			}
			_, err = repo.List(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("wrong error mapping: %v", err)
			}
		})
	}
}

func TestRemoteRepo_TokenGating(t *testing.T) {
	hermetic(t)
	tree := `[]`
	var lastAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		w.Header().Set("ETag", `"t"`)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(tree)))
			return
		}
		w.Write([]byte(tree))
	}))
	t.Cleanup(srv.Close)

	t.Run("hf token sent", func(t *testing.T) {
		repo, err := Remote("o/n", Options{Endpoint: srv.URL, AuthToken: "hf_good", CacheDir: t.TempDir(), HTTPClient: srv.Client()})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := repo.List(context.Background()); err != nil {
			t.Fatal(err)
		}
		if lastAuth != "Bearer hf_good" {
			t.Errorf("Authorization = %q, want the bearer token", lastAuth)
		}
	})

	t.Run("foreign token dropped", func(t *testing.T) {
		repo, err := Remote("o/n", Options{Endpoint: srv.URL, AuthToken: "not-a-hub-token", CacheDir: t.TempDir(), HTTPClient: srv.Client()})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := repo.List(context.Background()); err != nil {
			t.Fatal(err)
		}
		if lastAuth != "" {
			t.Errorf("Authorization = %q, want none for a token without the hf_ prefix", lastAuth)
		}
	})
}
