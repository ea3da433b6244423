// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the public hub.
	DefaultEndpoint = "https://huggingface.co"
	// DefaultBatchSize is the streaming batch size.
	DefaultBatchSize = 1000
	// DefaultMultipartThreshold is the size above which downloads switch to
	// ranged parts.
	DefaultMultipartThreshold = 64 << 20

	defaultRetries = 3

	// EnvCacheDir overrides the cache root directory.
	EnvCacheDir = "DATASETS_CACHE_DIR"
	// EnvOffline forces offline mode when set to "1" or "true".
	EnvOffline = "DATASETS_OFFLINE"
	// EnvToken supplies the default bearer token. Must start with "hf_".
	EnvToken = "HF_TOKEN"
	// EnvEndpoint overrides the hub base URL.
	EnvEndpoint = "HF_ENDPOINT"
)

// IsValidRepoID checks that the repository id is in "owner/name" format.
func IsValidRepoID(id string) bool {
	if id == "" || !strings.Contains(id, "/") {
		return false
	}
	parts := strings.Split(id, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// IsOfflineEnv reports whether DATASETS_OFFLINE requests offline mode.
func IsOfflineEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvOffline)))
	return v == "1" || v == "true"
}

// envToken returns the HF_TOKEN value when it looks like a real token.
func envToken() string {
	t := strings.TrimSpace(os.Getenv(EnvToken))
	if strings.HasPrefix(t, "hf_") {
		return t
	}
	return ""
}

func endpointFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		return strings.TrimRight(v, "/")
	}
	return DefaultEndpoint
}

// DefaultCacheDir resolves the cache root: DATASETS_CACHE_DIR, then the OS
// user cache directory, then ~/.cache.
func DefaultCacheDir() string {
	if v := os.Getenv(EnvCacheDir); v != "" {
		return v
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "hfdatasets")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "hfdatasets")
}

// backoff implements exponential backoff with jitter.
type backoff struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: 400 * time.Millisecond, max: 10 * time.Second, mult: 1.6, jitter: 120 * time.Millisecond}
}

// Next returns the next backoff duration.
func (b *backoff) Next() time.Duration {
	d := b.next + time.Duration(int64(b.jitter)*int64(time.Now().UnixNano()%3)/2)
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ParseSize parses a human-readable size string (e.g. "32MiB") to bytes.
// Empty input returns def.
func ParseSize(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	var n float64
	var unit string
	_, err := fmt.Sscanf(strings.ToUpper(strings.TrimSpace(s)), "%f%s", &n, &unit)
	if err != nil {
		var nn int64
		if _, e2 := fmt.Sscanf(s, "%d", &nn); e2 == nil {
			return nn, nil
		}
		return 0, err
	}
	switch unit {
	case "B", "":
		return int64(n), nil
	case "KB":
		return int64(n * 1000), nil
	case "MB":
		return int64(n * 1000 * 1000), nil
	case "GB":
		return int64(n * 1000 * 1000 * 1000), nil
	case "KIB":
		return int64(n * 1024), nil
	case "MIB":
		return int64(n * 1024 * 1024), nil
	case "GIB":
		return int64(n * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}
