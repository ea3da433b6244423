// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

// blockingFetch keeps jobs in the running state until cancelled.
func blockingFetch(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestManager(fetch fetchFunc) *JobManager {
	cfg := Config{
		CacheDir: "./test_cache",
		NumProc:  2,
	}
	hub := NewWSHub()
	go hub.Run()

	mgr := NewJobManager(cfg, hub)
	mgr.fetch = fetch
	return mgr
}

func TestJobManager_CreateJob(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	t.Run("creates queued job", func(t *testing.T) {
		req := FetchRequest{
			Repo:     "test/dataset",
			Revision: "main",
			Split:    "train",
		}

		job, wasExisting, err := mgr.CreateJob(req)
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		if wasExisting {
			t.Error("Expected new job, got existing")
		}
		if job.Repo != "test/dataset" {
			t.Errorf("Expected repo test/dataset, got %s", job.Repo)
		}
		if job.Split != "train" {
			t.Errorf("Expected split train, got %s", job.Split)
		}
	})

	t.Run("defaults revision to main", func(t *testing.T) {
		req := FetchRequest{
			Repo: "test/no-revision",
		}

		job, _, _ := mgr.CreateJob(req)
		if job.Revision != "main" {
			t.Errorf("Expected revision main, got %s", job.Revision)
		}
	})
}

func TestJobManager_Deduplication(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	req := FetchRequest{
		Repo:     "dedup/test",
		Revision: "main",
	}

	job1, wasExisting1, _ := mgr.CreateJob(req)
	if wasExisting1 {
		t.Error("First job should not be existing")
	}

	job2, wasExisting2, _ := mgr.CreateJob(req)
	if !wasExisting2 {
		t.Error("Second job should be detected as existing")
	}
	if job1.ID != job2.ID {
		t.Errorf("Expected same job ID, got %s vs %s", job1.ID, job2.ID)
	}
}

func TestJobManager_DifferentRevisionsNotDeduplicated(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	job1, _, _ := mgr.CreateJob(FetchRequest{
		Repo:     "revision/test",
		Revision: "v1",
	})

	job2, wasExisting, _ := mgr.CreateJob(FetchRequest{
		Repo:     "revision/test",
		Revision: "v2",
	})

	if wasExisting {
		t.Error("Different revisions should create different jobs")
	}
	if job1.ID == job2.ID {
		t.Error("Different revisions should have different IDs")
	}
}

func TestJobManager_DifferentSelectionNotDeduplicated(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	job1, _, _ := mgr.CreateJob(FetchRequest{
		Repo:  "selection/test",
		Split: "train",
	})

	job2, wasExisting, _ := mgr.CreateJob(FetchRequest{
		Repo:  "selection/test",
		Split: "test",
	})
	if wasExisting {
		t.Error("Different splits should create different jobs")
	}
	if job1.ID == job2.ID {
		t.Error("Different splits should have different IDs")
	}

	_, wasExisting, _ = mgr.CreateJob(FetchRequest{
		Repo:  "selection/test",
		Name:  "sst2",
		Split: "train",
	})
	if wasExisting {
		t.Error("Different config names should create different jobs")
	}
}

func TestJobManager_CompletedJobNotDeduplicated(t *testing.T) {
	done := make(chan struct{})
	mgr := newTestManager(func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
		defer close(done)
		return nil
	})

	job1, _, _ := mgr.CreateJob(FetchRequest{Repo: "redo/test"})
	<-done
	waitForStatus(t, mgr, job1.ID, JobStatusCompleted)

	mgr.fetch = blockingFetch
	job2, wasExisting, _ := mgr.CreateJob(FetchRequest{Repo: "redo/test"})
	if wasExisting {
		t.Error("Completed job should not block a new fetch")
	}
	if job1.ID == job2.ID {
		t.Error("New fetch should get a new ID")
	}
}

func TestJobManager_ProgressTranslation(t *testing.T) {
	events := []hfdatasets.ProgressEvent{
		{Event: "plan_item", File: "train.parquet", Total: 100},
		{Event: "plan_item", File: "test.parquet", Total: 50},
		{Event: "file_start", File: "train.parquet"},
		{Event: "file_progress", File: "train.parquet", Bytes: 60, Downloaded: 60, Total: 100},
		{Event: "file_done", File: "train.parquet", Downloaded: 100, Total: 100},
	}

	mgr := newTestManager(func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
		for _, ev := range events {
			progress(ev)
		}
		return nil
	})

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "progress/test"})
	waitForStatus(t, mgr, job.ID, JobStatusCompleted)

	got, _ := mgr.GetJob(job.ID)
	if got.Progress.TotalFiles != 2 {
		t.Errorf("Expected 2 total files, got %d", got.Progress.TotalFiles)
	}
	if got.Progress.TotalBytes != 150 {
		t.Errorf("Expected 150 total bytes, got %d", got.Progress.TotalBytes)
	}
	if got.Progress.CompletedFiles != 1 {
		t.Errorf("Expected 1 completed file, got %d", got.Progress.CompletedFiles)
	}
	if got.Files[0].Status != "complete" {
		t.Errorf("Expected first file complete, got %s", got.Files[0].Status)
	}
	if got.Files[1].Status != "pending" {
		t.Errorf("Expected second file pending, got %s", got.Files[1].Status)
	}
}

func TestJobManager_FailedFetchMarksJobFailed(t *testing.T) {
	mgr := newTestManager(func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
		return errors.New("gated dataset")
	})

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "fail/test"})
	waitForStatus(t, mgr, job.ID, JobStatusFailed)

	got, _ := mgr.GetJob(job.ID)
	if got.Error != "gated dataset" {
		t.Errorf("Expected error message carried over, got %q", got.Error)
	}
	if got.EndedAt == nil {
		t.Error("Expected EndedAt to be set")
	}
}

func TestJobManager_JobsAreSnapshots(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mgr := newTestManager(func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
		progress(hfdatasets.ProgressEvent{Event: "plan_item", File: "train.parquet", Total: 10})
		close(started)
		<-release
		progress(hfdatasets.ProgressEvent{Event: "file_done", File: "train.parquet", Downloaded: 10, Total: 10})
		return nil
	})

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "snap/test"})
	<-started

	snap, ok := mgr.GetJob(job.ID)
	if !ok || len(snap.Files) != 1 {
		t.Fatalf("expected 1 planned file, got %+v", snap)
	}

	// Mutating a returned job must not leak into the manager's copy.
	snap.Status = JobStatusFailed
	snap.Files[0].Status = "error"

	close(release)
	waitForStatus(t, mgr, job.ID, JobStatusCompleted)

	got, _ := mgr.GetJob(job.ID)
	if got.Files[0].Status != "complete" {
		t.Errorf("mutating a snapshot leaked into the manager: file status %q", got.Files[0].Status)
	}
	// And a snapshot stays frozen while the job moves on.
	if snap.Progress.CompletedFiles != 0 {
		t.Errorf("snapshot changed after later progress events: %d completed files", snap.Progress.CompletedFiles)
	}
}

func TestJobManager_ConcurrentReadsDuringProgress(t *testing.T) {
	mgr := newTestManager(func(ctx context.Context, req FetchRequest, cfg Config, progress hfdatasets.ProgressFunc) error {
		for i := 0; i < 200; i++ {
			name := fmt.Sprintf("part-%03d.parquet", i)
			progress(hfdatasets.ProgressEvent{Event: "plan_item", File: name, Total: 10})
			progress(hfdatasets.ProgressEvent{Event: "file_progress", File: name, Bytes: 5, Downloaded: 5, Total: 10})
			progress(hfdatasets.ProgressEvent{Event: "file_done", File: name, Downloaded: 10, Total: 10})
		}
		return nil
	})

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "race/test"})

	// Marshal job views as fast as possible while the progress callback
	// mutates the underlying job. The race detector flags any sharing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			j, ok := mgr.GetJob(job.ID)
			if !ok {
				continue
			}
			if _, err := json.Marshal(j); err != nil {
				t.Error(err)
				return
			}
			for _, l := range mgr.ListJobs() {
				if _, err := json.Marshal(l); err != nil {
					t.Error(err)
					return
				}
			}
			if j.Status == JobStatusCompleted {
				return
			}
		}
	}()

	waitForStatus(t, mgr, job.ID, JobStatusCompleted)
	<-done

	got, _ := mgr.GetJob(job.ID)
	if got.Progress.CompletedFiles != 200 {
		t.Errorf("completed files = %d, want 200", got.Progress.CompletedFiles)
	}
}

func TestJobManager_GetJob(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "get/test"})

	t.Run("returns existing job", func(t *testing.T) {
		found, ok := mgr.GetJob(job.ID)
		if !ok {
			t.Error("Expected to find job")
		}
		if found.ID != job.ID {
			t.Error("Wrong job returned")
		}
	})

	t.Run("returns false for missing job", func(t *testing.T) {
		_, ok := mgr.GetJob("nonexistent")
		if ok {
			t.Error("Should not find nonexistent job")
		}
	})
}

func TestJobManager_ListJobs(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	mgr.CreateJob(FetchRequest{Repo: "list/test1"})
	mgr.CreateJob(FetchRequest{Repo: "list/test2"})
	mgr.CreateJob(FetchRequest{Repo: "list/test3"})

	jobs := mgr.ListJobs()
	if len(jobs) < 3 {
		t.Errorf("Expected at least 3 jobs, got %d", len(jobs))
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	mgr := newTestManager(blockingFetch)

	job, _, _ := mgr.CreateJob(FetchRequest{Repo: "cancel/test"})

	// Wait a bit for job to start
	time.Sleep(50 * time.Millisecond)

	t.Run("cancels running job", func(t *testing.T) {
		ok := mgr.CancelJob(job.ID)
		if !ok {
			t.Error("Cancel should succeed")
		}

		found, _ := mgr.GetJob(job.ID)
		if found.Status != JobStatusCancelled {
			t.Errorf("Expected cancelled status, got %s", found.Status)
		}
	})

	t.Run("returns false for nonexistent job", func(t *testing.T) {
		ok := mgr.CancelJob("nonexistent")
		if ok {
			t.Error("Cancel should fail for nonexistent job")
		}
	})
}

func TestJobStatus_Values(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}

	for _, s := range statuses {
		if s == "" {
			t.Error("Status should not be empty")
		}
	}
}

// waitForStatus polls until the job reaches the wanted status or times out.
func waitForStatus(t *testing.T, mgr *JobManager, id string, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := mgr.GetJob(id); ok && job.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := mgr.GetJob(id)
	t.Fatalf("Timed out waiting for status %s, got %s", want, job.Status)
}
