// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdatasets

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers commonly branch on.
var (
	// ErrInvalidRepo indicates a repository id that is not "owner/name".
	ErrInvalidRepo = errors.New("invalid repository id, expected owner/name")
	// ErrNoEtag indicates a response that exposed neither x-linked-etag nor
	// etag, leaving nothing to address the content by.
	ErrNoEtag = errors.New("response carries no etag")
)

// ArgumentError reports a programmer error in options or handles. It is
// returned before any I/O is attempted.
type ArgumentError struct {
	Field  string
	Reason string
	Err    error // optional underlying sentinel, e.g. ErrInvalidRepo
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// RepoNotFoundError covers missing and private repositories. The hub answers
// 401 for both, so the message hedges.
type RepoNotFoundError struct {
	URL string
}

func (e *RepoNotFoundError) Error() string {
	return fmt.Sprintf("repository not found at %s (it may not exist or may be private; pass a token with access)", e.URL)
}

// GatedRepoError means the repository exists but requires accepting its
// access conditions.
type GatedRepoError struct {
	URL string
}

func (e *GatedRepoError) Error() string {
	return fmt.Sprintf("access to %s is gated: request access on the hub and pass an authorized token", e.URL)
}

// RevisionNotFoundError means the repository exists but the requested
// revision does not.
type RevisionNotFoundError struct {
	URL string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision not found at %s", e.URL)
}

// EntryNotFoundError means the repository and revision exist but the file
// does not.
type EntryNotFoundError struct {
	URL string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("entry not found at %s", e.URL)
}

// OfflineError is returned when offline mode is active and the requested
// resource is not in the cache.
type OfflineError struct {
	URL string
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("offline mode is enabled and %s is not cached (unset DATASETS_OFFLINE or disable the offline option to fetch it)", e.URL)
}

// NetworkError wraps transport failures: DNS, TCP, TLS, timeouts.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the request may help. Transport errors
// are treated as transient.
func (e *NetworkError) Retryable() bool { return true }

// HTTPError reports a non-success status that maps to no more specific
// error.
type HTTPError struct {
	StatusCode int
	URL        string
	ErrorCode  string // x-error-code header, if any
	Message    string // x-error-message header, if any
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Retryable reports whether the status is worth retrying.
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case 408, 429:
		return true
	}
	return e.StatusCode >= 500
}

// ParseError reports malformed JSON in a listing, cache metadata or a
// dataset card.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeError reports a tabular decoder failure for one file.
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.File, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// retryable reports whether err is transient per its own judgment.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
