// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
	"github.com/bodaay/HuggingFaceDatasets/pkg/tabular"
)

// FetchRequest is the request body for starting a fetch job.
// Note: the cache directory is NOT configurable via API; the server uses its
// configured CacheDir.
type FetchRequest struct {
	Repo     string `json:"repo"`
	Revision string `json:"revision,omitempty"`
	Name     string `json:"name,omitempty"`
	Split    string `json:"split,omitempty"`
	Force    bool   `json:"force,omitempty"`
	Offline  bool   `json:"offline,omitempty"`
}

// PreviewRequest is the request body for a bounded row preview.
type PreviewRequest struct {
	Repo     string `json:"repo"`
	Revision string `json:"revision,omitempty"`
	Name     string `json:"name,omitempty"`
	Split    string `json:"split,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PreviewResponse carries the previewed rows.
type PreviewResponse struct {
	Repo   string        `json:"repo"`
	Offset int           `json:"offset"`
	Rows   []tabular.Row `json:"rows"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token    string `json:"token,omitempty"`
	CacheDir string `json:"cacheDir"`
	Endpoint string `json:"endpoint,omitempty"`
	NumProc  int    `json:"jobs"`
	Offline  bool   `json:"offline"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

const defaultPreviewLimit = 100

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": serverVersion,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody decodes a JSON request body, rejecting unknown fields so typos
// and injection attempts surface as 400s instead of being ignored.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// handleStartFetch starts a new fetch job.
func (s *Server) handleStartFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	// Validate
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}
	if !hfdatasets.IsValidRepoID(req.Repo) {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}

	// Create and start the job (or return existing if duplicate)
	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	// Return appropriate status
	if wasExisting {
		// Job already exists for this selection - return it with 200
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Fetch already in progress",
		})
	} else {
		// New job created
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handlePreview streams a bounded window of rows out of the dataset and
// returns them as JSON. The read is lazy: only the files and row groups
// needed to satisfy offset+limit are touched.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}
	if !hfdatasets.IsValidRepoID(req.Repo) {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}
	if req.Offset < 0 {
		writeError(w, http.StatusBadRequest, "Invalid offset", "must not be negative")
		return
	}

	maxRows := s.config.MaxPreviewRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	if limit > maxRows {
		limit = maxRows
	}

	opts := s.config.options()
	opts.Revision = req.Revision
	opts.Name = req.Name
	opts.Split = req.Split
	opts.Streaming = true

	repo, err := hfdatasets.Remote(req.Repo, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid repository", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	ds, err := hfdatasets.Load(ctx, repo, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to open dataset", err.Error())
		return
	}

	rows, err := collectRows(ctx, ds.Stream, req.Offset, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to read rows", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		Repo:   req.Repo,
		Offset: req.Offset,
		Rows:   rows,
	})
}

// collectRows pulls batches until offset+limit rows have passed, keeping only
// the requested window.
func collectRows(ctx context.Context, stream *hfdatasets.Stream, offset, limit int) ([]tabular.Row, error) {
	it := stream.Iter()
	defer it.Close()

	rows := make([]tabular.Row, 0, limit)
	seen := 0
	for it.Next(ctx) {
		for _, row := range it.Batch() {
			if seen >= offset {
				rows = append(rows, row)
				if len(rows) >= limit {
					return rows, nil
				}
			}
			seen++
		}
	}
	return rows, it.Err()
}

// --- Dataset metadata passthrough ---

func (s *Server) repoIDFromPath(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("name")
}

// handleDatasetInfo returns the parsed dataset card infos.
func (s *Server) handleDatasetInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	infos, err := hfdatasets.GetDatasetInfos(ctx, s.repoIDFromPath(r), s.config.options())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch dataset info", err.Error())
		return
	}
	maps := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		maps = append(maps, info.ToMap())
	}
	writeJSON(w, http.StatusOK, maps)
}

// handleDatasetSplits returns the flattened split names.
func (s *Server) handleDatasetSplits(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	names, err := hfdatasets.GetDatasetSplitNames(ctx, s.repoIDFromPath(r), s.config.options())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch split names", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"splits": names})
}

// handleDatasetConfigs returns the configuration names.
func (s *Server) handleDatasetConfigs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	names, err := hfdatasets.GetDatasetConfigNames(ctx, s.repoIDFromPath(r), s.config.options())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch config names", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": names})
}

// --- Jobs ---

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// --- Settings ---

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	// Don't expose full token, just indicate if set
	tokenStatus := ""
	if s.config.Token != "" {
		tokenStatus = "********" + s.config.Token[max(0, len(s.config.Token)-4):]
	}

	cacheDir := s.config.CacheDir
	if cacheDir == "" {
		cacheDir = hfdatasets.DefaultCacheDir()
	}

	resp := SettingsResponse{
		Token:    tokenStatus,
		CacheDir: cacheDir,
		Endpoint: s.config.Endpoint,
		NumProc:  s.config.NumProc,
		Offline:  s.config.Offline,
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings updates settings.
// Note: the cache directory cannot be changed via API for security.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   *string `json:"token,omitempty"`
		NumProc *int    `json:"jobs,omitempty"`
		Offline *bool   `json:"offline,omitempty"`
		// Note: CacheDir and Endpoint are NOT updatable via API
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	// Update config (only safe fields)
	if req.Token != nil {
		s.config.Token = *req.Token
	}
	if req.NumProc != nil && *req.NumProc > 0 {
		s.config.NumProc = *req.NumProc
	}
	if req.Offline != nil {
		s.config.Offline = *req.Offline
	}

	// Also update job manager config
	s.jobs.config = s.config

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
