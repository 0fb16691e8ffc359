package inmemory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/notion-ledger/internal/ledger"
)

// waitForStatus polls the store until the job reaches status or the deadline passes.
func waitForStatus(t *testing.T, store *inmemory.Store, jobID string, status jobs.JobStatus) *jobs.ImportInvoicesJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s, last state: %+v", jobID, status, job)
	return nil
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := inmemory.NewStore(0)
	q := inmemory.NewQueue(inmemory.Options{Workers: 1, Buffer: 1}, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ImportInvoicesJob)
		j.Result = map[string]int{"savedCount": 3}
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ImportInvoicesJob{RequestedBy: "test"}
	if err := q.PublishImportInvoices(context.Background(), job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if job.JobID == "" || job.Status != jobs.JobStatusPending || job.CreatedAt.IsZero() {
		t.Errorf("publish did not initialise job: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("expected timestamps, got %+v", done)
	}
	if done.Result == nil {
		t.Error("expected handler result to be stored")
	}
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := inmemory.NewStore(0)
	q := inmemory.NewQueue(inmemory.Options{Workers: 1, Buffer: 2, MaxRetries: 2, Backoff: time.Millisecond}, store)
	defer q.Close()

	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("scraper unavailable")
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ImportInvoicesJob{}
	if err := q.PublishImportInvoices(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", failed.RetryCount)
	}
	if failed.Error != "scraper unavailable" {
		t.Errorf("Error = %q", failed.Error)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("handler called %d times, want 3", n)
	}
}

func TestQueue_RetrySucceeds(t *testing.T) {
	store := inmemory.NewStore(0)
	q := inmemory.NewQueue(inmemory.Options{Workers: 2, MaxRetries: 1, Backoff: time.Millisecond}, store)
	defer q.Close()

	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ImportInvoicesJob{}
	if err := q.PublishImportInvoices(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 1 || done.Error != "" {
		t.Errorf("unexpected final state %+v", done)
	}
}

func TestQueue_HandlerPanicFailsJob(t *testing.T) {
	store := inmemory.NewStore(0)
	q := inmemory.NewQueue(inmemory.Options{Workers: 1}, store)
	defer q.Close()

	if err := q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ImportInvoicesJob{}
	if err := q.PublishImportInvoices(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "job handler panic: boom" {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := inmemory.NewQueue(inmemory.Options{}, nil)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishImportInvoices(context.Background(), &jobs.ImportInvoicesJob{}); err == nil {
		t.Error("expected error publishing to a stopped queue")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("expected error starting a stopped queue")
	}
}

func TestStore_ListAndGet(t *testing.T) {
	store := inmemory.NewStore(0)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		job := &jobs.ImportInvoicesJob{
			JobID:     string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := store.ListJobs(ctx, jobs.JobFilter{})
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Errorf("expected newest first, got %v %v %v", all[0].JobID, all[1].JobID, all[2].JobID)
	}

	completed, _ := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	if len(completed) != 1 || completed[0].JobID != "c" {
		t.Errorf("unexpected filtered list: %+v", completed)
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.SaveJob(ctx, &jobs.ImportInvoicesJob{}); err == nil {
		t.Error("expected error saving a job without id")
	}
}

func TestStore_FilterByRequester(t *testing.T) {
	store := inmemory.NewStore(0)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, by := range []string{"api", "schedule", "schedule"} {
		job := &jobs.ImportInvoicesJob{JobID: fmt.Sprintf("j%d", i), RequestedBy: by, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	scheduled, _ := store.ListJobs(ctx, jobs.JobFilter{RequestedBy: "schedule"})
	if len(scheduled) != 2 || scheduled[0].JobID != "j2" {
		t.Errorf("unexpected scheduled jobs: %+v", scheduled)
	}
}

func TestStore_RetainDropsOldestFinished(t *testing.T) {
	store := inmemory.NewStore(3)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	statuses := []jobs.JobStatus{
		jobs.JobStatusRunning,   // j0: oldest but still running
		jobs.JobStatusCompleted, // j1
		jobs.JobStatusFailed,    // j2
		jobs.JobStatusCompleted, // j3
		jobs.JobStatusPending,   // j4
	}
	for i, status := range statuses {
		job := &jobs.ImportInvoicesJob{JobID: fmt.Sprintf("j%d", i), Status: status, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := store.ListJobs(ctx, jobs.JobFilter{})
	var ids []string
	for _, j := range all {
		ids = append(ids, j.JobID)
	}
	if got := strings.Join(ids, ","); got != "j4,j3,j0" {
		t.Errorf("retained jobs = %s, want j4,j3,j0", got)
	}

	// Updating a known job never evicts anything.
	if err := store.SaveJob(ctx, &jobs.ImportInvoicesJob{JobID: "j0", Status: jobs.JobStatusCompleted, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if all, _ := store.ListJobs(ctx, jobs.JobFilter{}); len(all) != 3 {
		t.Errorf("expected 3 jobs after update, got %d", len(all))
	}
}
