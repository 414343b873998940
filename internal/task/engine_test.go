package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/objectfs/storage-gateway/internal/config"
	"github.com/objectfs/storage-gateway/pkg/types"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*types.Job)}
}

func (s *fakeJobStore) CreateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorMessage = errMsg
	return nil
}

func (s *fakeJobStore) UpdateJobProgress(ctx context.Context, id string, stats map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Stats = stats
	return nil
}

func (s *fakeJobStore) ListJobs(ctx context.Context, taskType, userID string, limit int) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Job
	for _, j := range s.jobs {
		if taskType != "" && j.TaskType != taskType {
			continue
		}
		if userID != "" && j.UserID != userID {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeJobStore) ClaimNextPending(ctx context.Context, taskTypes []string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[string]bool, len(taskTypes))
	for _, t := range taskTypes {
		allowed[t] = true
	}
	for _, j := range s.jobs {
		if j.Status == types.JobPending && allowed[j.TaskType] {
			j.Status = types.JobRunning
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return errors.New("job not found")
	}
	delete(s.jobs, id)
	return nil
}

type fakeHandler struct {
	taskType  string
	runFunc   func(ctx context.Context, job *types.Job, progress types.ProgressFunc) error
	validated map[string]any
}

func (h *fakeHandler) TaskType() string { return h.taskType }

func (h *fakeHandler) Run(ctx context.Context, job *types.Job, progress types.ProgressFunc) error {
	if h.runFunc != nil {
		return h.runFunc(ctx, job, progress)
	}
	return nil
}

func (h *fakeHandler) Validate(payload map[string]any) error {
	if _, ok := payload["required"]; !ok {
		return errors.New("missing required field")
	}
	return nil
}

func (h *fakeHandler) CreateStatsTemplate(payload map[string]any) map[string]any {
	return map[string]any{"seeded": true}
}

func testEngine(t *testing.T, handler types.TaskHandler, entry types.TaskCatalogEntry) (*Engine, *fakeJobStore) {
	t.Helper()
	reg := NewRegistry()
	reg.Register(handler)
	cat := NewCatalog()
	cat.Register(entry)
	store := newFakeJobStore()
	cfg := &config.TaskEngineConfig{WorkerConcurrency: 1, PollInterval: 5 * time.Millisecond}
	eng, err := NewEngine(store, reg, cat, cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error constructing engine: %v", err)
	}
	return eng, store
}

func TestNewEngineRejectsInconsistentRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeHandler{taskType: "orphan"})
	cat := NewCatalog()
	store := newFakeJobStore()
	_, err := NewEngine(store, reg, cat, &config.TaskEngineConfig{WorkerConcurrency: 1, PollInterval: time.Millisecond}, nil)
	if err == nil {
		t.Fatal("expected consistency error for handler with no catalog entry")
	}
}

func TestSubmitSeedsStatsAndValidates(t *testing.T) {
	h := &fakeHandler{taskType: "demo"}
	eng, store := testEngine(t, h, types.TaskCatalogEntry{TaskType: "demo"})

	if _, err := eng.Submit(context.Background(), "demo", map[string]any{}, "user-1", "standard", "manual"); err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	job, err := eng.Submit(context.Background(), "demo", map[string]any{"required": true}, "user-1", "standard", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != types.JobPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error fetching stored job: %v", err)
	}
	if stored.Stats["seeded"] != true {
		t.Fatal("expected stats template to be seeded")
	}
}

func TestRunExecutesClaimedJobToCompletion(t *testing.T) {
	done := make(chan struct{})
	h := &fakeHandler{
		taskType: "demo",
		runFunc: func(ctx context.Context, job *types.Job, progress types.ProgressFunc) error {
			progress(map[string]any{"scanned": 1})
			close(done)
			return nil
		},
	}
	eng, store := testEngine(t, h, types.TaskCatalogEntry{TaskType: "demo"})
	job, err := eng.Submit(context.Background(), "demo", map[string]any{"required": true}, "user-1", "standard", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Run(ctx)
	defer eng.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to run")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		stored, err := store.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stored.Status == types.JobCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached completed status")
}

func TestExecutePartialErrorMarksJobPartial(t *testing.T) {
	h := &fakeHandler{
		taskType: "demo",
		runFunc: func(ctx context.Context, job *types.Job, progress types.ProgressFunc) error {
			return &PartialError{Err: errors.New("3 of 10 items failed")}
		},
	}
	eng, store := testEngine(t, h, types.TaskCatalogEntry{TaskType: "demo", RetryCapability: types.RetryCopyRetry})
	job, err := eng.Submit(context.Background(), "demo", map[string]any{"required": true}, "user-1", "standard", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := store.GetJob(context.Background(), job.ID)
	stored.Status = types.JobRunning
	eng.execute(context.Background(), stored)

	final, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != types.JobPartial {
		t.Fatalf("expected partial status, got %s", final.Status)
	}

	if !AllowedActions(final, &types.TaskCatalogEntry{TaskType: "demo", RetryCapability: types.RetryCopyRetry}).CanRetry {
		t.Fatal("expected partial job with copy-retry capability to allow retry")
	}
}

func TestAllowedActionsByStatus(t *testing.T) {
	pending := &types.Job{Status: types.JobPending}
	if !AllowedActions(pending, nil).CanCancel {
		t.Fatal("expected pending job to be cancellable")
	}
	if AllowedActions(pending, nil).CanDelete {
		t.Fatal("expected pending job to not be deletable")
	}

	completed := &types.Job{Status: types.JobCompleted}
	if AllowedActions(completed, nil).CanCancel {
		t.Fatal("expected completed job to not be cancellable")
	}
	if !AllowedActions(completed, nil).CanDelete {
		t.Fatal("expected completed job to be deletable")
	}
}

func TestDeleteRejectsRunningJob(t *testing.T) {
	h := &fakeHandler{taskType: "demo"}
	eng, _ := testEngine(t, h, types.TaskCatalogEntry{TaskType: "demo"})
	job, err := eng.Submit(context.Background(), "demo", map[string]any{"required": true}, "user-1", "standard", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := eng.store.UpdateJobStatus(context.Background(), job.ID, types.JobRunning, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := eng.Delete(context.Background(), job.ID, "user-1", false); err == nil {
		t.Fatal("expected delete of running job to be rejected")
	}
}

func TestGetEnforcesOwnerVisibility(t *testing.T) {
	h := &fakeHandler{taskType: "demo"}
	eng, _ := testEngine(t, h, types.TaskCatalogEntry{TaskType: "demo"})
	job, err := eng.Submit(context.Background(), "demo", map[string]any{"required": true}, "user-1", "standard", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := eng.Get(context.Background(), job.ID, "user-2", false); err == nil {
		t.Fatal("expected permission error for non-owner, non-admin caller")
	}
	if _, err := eng.Get(context.Background(), job.ID, "user-2", true); err != nil {
		t.Fatalf("expected admin caller to view any job, got error: %v", err)
	}
}
