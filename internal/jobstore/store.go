// Package jobstore implements an in-memory types.JobStore (C8): the durable
// backing store the task Engine claims and updates Jobs against, built to
// the same in-process, mutex-guarded contract as internal/session.Store and
// internal/searchindex.Store so the backing implementation can change
// without touching the engine.
package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Store is an in-memory types.JobStore implementation, safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

// New returns an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*types.Job)}
}

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return gwerrors.Validation(gwerrors.ErrCodeMissingField, "job id is required")
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetJob returns the job with id, or NotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "job not found: "+id)
	}
	cp := *job
	return &cp, nil
}

// UpdateJobStatus transitions a job's status, stamping StartedAt/FinishedAt
// as the transition implies.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "job not found: "+id)
	}

	now := time.Now()
	if status == types.JobRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	switch status {
	case types.JobCompleted, types.JobPartial, types.JobFailed, types.JobCancelled:
		job.FinishedAt = &now
	}

	job.Status = status
	job.ErrorMessage = errMsg
	return nil
}

// UpdateJobProgress merges stats into the job's Stats map.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, stats map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "job not found: "+id)
	}

	if job.Stats == nil {
		job.Stats = make(map[string]any)
	}
	for k, v := range stats {
		job.Stats[k] = v
	}
	return nil
}

// ListJobs returns jobs of taskType, newest first, optionally scoped to
// userID (empty means every owner, for admin callers).
func (s *Store) ListJobs(ctx context.Context, taskType, userID string, limit int) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if taskType != "" && job.TaskType != taskType {
			continue
		}
		if userID != "" && job.UserID != userID {
			continue
		}
		out = append(out, *job)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNextPending atomically claims the oldest pending job of one of
// taskTypes, or returns (nil, nil) when none is waiting.
func (s *Store) ClaimNextPending(ctx context.Context, taskTypes []string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]struct{}, len(taskTypes))
	for _, t := range taskTypes {
		allowed[t] = struct{}{}
	}

	var oldest *types.Job
	for _, job := range s.jobs {
		if job.Status != types.JobPending {
			continue
		}
		if _, ok := allowed[job.TaskType]; !ok {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = types.JobRunning
	cp := *oldest
	return &cp, nil
}

// DeleteJob removes a job record.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "job not found: "+id)
	}
	delete(s.jobs, id)
	return nil
}
