// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

// JobStatus represents the state of a fetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a dataset fetch job.
type Job struct {
	ID        string            `json:"id"`
	Repo      string            `json:"repo"`
	Revision  string            `json:"revision"`
	Name      string            `json:"name,omitempty"`
	Split     string            `json:"split,omitempty"`
	Force     bool              `json:"force,omitempty"`
	Offline   bool              `json:"offline,omitempty"`
	Status    JobStatus         `json:"status"`
	Progress  JobProgress       `json:"progress"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Files     []JobFileProgress `json:"files,omitempty"`

	cancel context.CancelFunc `json:"-"`
}

// snapshot returns a deep copy safe to marshal or hand out while runJob keeps
// mutating the original. Callers must hold m.mu.
func (j *Job) snapshot() *Job {
	c := *j
	c.cancel = nil
	if j.Files != nil {
		c.Files = append([]JobFileProgress(nil), j.Files...)
	}
	return &c
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalFiles      int   `json:"totalFiles"`
	CompletedFiles  int   `json:"completedFiles"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
}

// JobFileProgress holds per-file progress.
type JobFileProgress struct {
	Name       string `json:"name"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	Status     string `json:"status"` // pending, active, complete, error
}

// fetchFunc runs one fetch. Tests substitute a stub so jobs complete without
// touching the hub.
type fetchFunc func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error

// JobManager manages fetch jobs.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	fetch      fetchFunc
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, wsHub *WSHub) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		wsHub:  wsHub,
		fetch:  fetchDataset,
	}
}

// fetchDataset is the production fetchFunc: cache-backed Fetch through the
// library with the server's policy applied.
func fetchDataset(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
	opts := cfg.options()
	opts.Revision = req.Revision
	opts.Name = req.Name
	opts.Split = req.Split
	opts.Progress = progress
	if req.Force {
		opts.DownloadMode = hfdatasets.ForceRedownload
	}
	if req.Offline {
		opts.Offline = hfdatasets.OfflineEnabled
	}

	repo, err := hfdatasets.Remote(req.Repo, opts)
	if err != nil {
		return err
	}
	_, err = hfdatasets.Fetch(ctx, repo, opts)
	return err
}

// generateID creates a short random ID.
func generateID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateJob creates a new fetch job.
// Returns the existing job if the same repo+revision+name+split is already
// in progress. The returned Job is a snapshot; the manager keeps mutating
// its own copy as the fetch progresses.
func (m *JobManager) CreateJob(req FetchRequest) (*Job, bool, error) {
	revision := req.Revision
	if revision == "" {
		revision = "main"
	}

	// Check for existing active job with the same selection
	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Repo == req.Repo &&
			existing.Revision == revision &&
			existing.Name == req.Name &&
			existing.Split == req.Split &&
			(existing.Status == JobStatusQueued || existing.Status == JobStatusRunning) {
			snap := existing.snapshot()
			m.mu.Unlock()
			return snap, true, nil // Return existing, wasExisting=true
		}
	}

	job := &Job{
		ID:        generateID(),
		Repo:      req.Repo,
		Revision:  revision,
		Name:      req.Name,
		Split:     req.Split,
		Force:     req.Force,
		Offline:   req.Offline,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		Progress:  JobProgress{},
	}

	m.jobs[job.ID] = job
	snap := job.snapshot()
	m.mu.Unlock()

	// Start the job
	go m.runJob(job, req)

	return snap, false, nil // New job, wasExisting=false
}

// GetJob retrieves a snapshot of a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	if job.Status == JobStatusQueued || job.Status == JobStatusRunning {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = JobStatusCancelled
		now := time.Now()
		job.EndedAt = &now
		m.notifyListeners(job.snapshot())
		return true
	}

	return false
}

// DeleteJob removes a job from the list.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	// Cancel if running
	if job.cancel != nil && (job.Status == JobStatusQueued || job.Status == JobStatusRunning) {
		job.cancel()
	}

	delete(m.jobs, id)
	return true
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	// Notify channel listeners
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	// Broadcast to WebSocket clients
	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob executes the fetch job.
func (m *JobManager) runJob(job *Job, req FetchRequest) {
	ctx, cancel := context.WithCancel(context.Background())

	// Update status. CancelJob may have won the race before the job ever
	// started; in that case the cancelled state stands.
	m.mu.Lock()
	if job.Status == JobStatusCancelled {
		m.mu.Unlock()
		cancel()
		return
	}
	job.cancel = cancel
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(snap)

	// Progress callback - NOTE: must not hold lock when calling notifyListeners
	progressFunc := func(evt hfdatasets.ProgressEvent) {
		m.mu.Lock()

		switch evt.Event {
		case "plan_item":
			job.Progress.TotalFiles++
			job.Progress.TotalBytes += evt.Total
			job.Files = append(job.Files, JobFileProgress{
				Name:       evt.File,
				TotalBytes: evt.Total,
				Status:     "pending",
			})

		case "file_start":
			for i := range job.Files {
				if job.Files[i].Name == evt.File {
					job.Files[i].Status = "active"
					break
				}
			}

		case "file_progress":
			for i := range job.Files {
				if job.Files[i].Name == evt.File {
					job.Files[i].Downloaded = evt.Downloaded
					break
				}
			}
			// Update aggregate
			var total int64
			for _, f := range job.Files {
				total += f.Downloaded
			}
			job.Progress.DownloadedBytes = total

		case "file_done":
			for i := range job.Files {
				if job.Files[i].Name == evt.File {
					job.Files[i].Status = "complete"
					job.Files[i].Downloaded = job.Files[i].TotalBytes
					break
				}
			}
			job.Progress.CompletedFiles++
			// Recalculate total downloaded
			var total int64
			for _, f := range job.Files {
				total += f.Downloaded
			}
			job.Progress.DownloadedBytes = total

		case "error":
			for i := range job.Files {
				if job.Files[i].Name == evt.File {
					job.Files[i].Status = "error"
					break
				}
			}
		}

		snap := job.snapshot()
		m.mu.Unlock() // Unlock BEFORE notifying to avoid deadlock
		m.notifyListeners(snap)
	}

	// Run the fetch
	err := m.fetch(ctx, req, m.config, progressFunc)

	// Update final status
	m.mu.Lock()
	endTime := time.Now()
	job.EndedAt = &endTime
	if ctx.Err() != nil {
		job.Status = JobStatusCancelled
	} else if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	snap = job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
}
