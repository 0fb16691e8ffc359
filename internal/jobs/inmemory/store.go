package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/ledger"
)

// Store keeps import jobs and their results in memory. History is lost on
// restart; the ledger itself is not, since every saved invoice lives in the
// store it was written to.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*jobs.ImportInvoicesJob
	retain int
}

// NewStore creates a job store. Once more than retain jobs are held, the
// oldest finished ones are dropped; retain <= 0 keeps everything.
func NewStore(retain int) *Store {
	return &Store{
		jobs:   make(map[string]*jobs.ImportInvoicesJob),
		retain: retain,
	}
}

func finished(s jobs.JobStatus) bool {
	return s == jobs.JobStatusCompleted || s == jobs.JobStatusFailed
}

// SaveJob stores a copy of job, replacing an earlier state with the same ID.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportInvoicesJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *job
	_, known := s.jobs[job.JobID]
	s.jobs[job.JobID] = &saved
	if !known {
		s.prune()
	}
	return nil
}

// prune drops the oldest finished jobs beyond the retention limit. Pending
// and running imports are never dropped. Callers hold s.mu.
func (s *Store) prune() {
	if s.retain <= 0 || len(s.jobs) <= s.retain {
		return
	}

	var done []*jobs.ImportInvoicesJob
	for _, j := range s.jobs {
		if finished(j.Status) {
			done = append(done, j)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].CreatedAt.Before(done[j].CreatedAt)
	})

	for _, j := range done {
		if len(s.jobs) <= s.retain {
			return
		}
		delete(s.jobs, j.JobID)
	}
}

// GetJob returns a copy of the job. A missing job yields an error wrapping
// ledger.ErrNotFound, which the API reports as 404.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ImportInvoicesJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ledger.NotFoundf("job %s", jobID)
	}
	out := *job
	return &out, nil
}

// ListJobs returns matching imports newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportInvoicesJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.ImportInvoicesJob{}
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.RequestedBy != "" && job.RequestedBy != filter.RequestedBy {
			continue
		}
		out := *job
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].JobID > result[j].JobID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ImportInvoicesJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateJobStatus records a status change; errorMsg, when set, replaces the
// job's last error.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ledger.NotFoundf("job %s", jobID)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
