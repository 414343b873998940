// Package task implements the Background Job Engine (C8): a handler
// registry, a parallel policy catalog, job lifecycle management, and
// cooperative cancellation, all fronting a types.JobStore.
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/storage-gateway/internal/config"
	"github.com/objectfs/storage-gateway/internal/idgen"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// PartialError lets a TaskHandler report that it finished but some units of
// work failed; the engine records the job as partial rather than failed.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return e.Err.Error() }
func (e *PartialError) Unwrap() error { return e.Err }

// Engine runs registered TaskHandlers against claimed jobs.
type Engine struct {
	store    types.JobStore
	registry *Registry
	catalog  *Catalog
	cfg      *config.TaskEngineConfig
	logger   *slog.Logger

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewEngine validates the registry/catalog consistency (per SPEC_FULL.md
// §4.8's startup check) and returns an Engine, or an error if registration
// is inconsistent.
func NewEngine(store types.JobStore, registry *Registry, catalog *Catalog, cfg *config.TaskEngineConfig, logger *slog.Logger) (*Engine, error) {
	if err := checkConsistency(registry, catalog); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		registry: registry,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.With("component", "task.Engine"),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Submit validates payload (if the handler is a Validator), seeds Stats (if
// the handler is a StatsTemplater), and persists a new pending Job.
func (e *Engine) Submit(ctx context.Context, taskType string, payload map[string]any, userID, userType, trigger string) (*types.Job, error) {
	handler, err := e.registry.Get(taskType)
	if err != nil {
		return nil, err
	}
	if _, err := e.catalog.Get(taskType); err != nil {
		return nil, err
	}

	if v, ok := handler.(Validator); ok {
		if err := v.Validate(payload); err != nil {
			return nil, err
		}
	}

	job := &types.Job{
		ID:        idgen.NewID(),
		TaskType:  taskType,
		Status:    types.JobPending,
		Payload:   payload,
		UserID:    userID,
		UserType:  userType,
		Trigger:   trigger,
		CreatedAt: time.Now(),
	}
	if st, ok := handler.(StatsTemplater); ok {
		job.Stats = st.CreateStatsTemplate(payload)
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns job by id, enforcing owner-only visibility for non-admins.
func (e *Engine) Get(ctx context.Context, id, callerUserID string, isAdmin bool) (*types.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && job.UserID != callerUserID {
		return nil, gwerrors.New(gwerrors.ErrCodePermissionDenied, "not authorized to view this job")
	}
	return job, nil
}

// List returns jobs of taskType, scoped to the caller unless they're an admin.
func (e *Engine) List(ctx context.Context, taskType, callerUserID string, isAdmin bool, limit int) ([]types.Job, error) {
	userID := callerUserID
	if isAdmin {
		userID = ""
	}
	return e.store.ListJobs(ctx, taskType, userID, limit)
}

// Cancel requests cooperative cancellation of a pending or running job.
func (e *Engine) Cancel(ctx context.Context, id, callerUserID string, isAdmin bool) error {
	job, err := e.Get(ctx, id, callerUserID, isAdmin)
	if err != nil {
		return err
	}
	if !AllowedActions(job, nil).CanCancel {
		return gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "job cannot be cancelled in its current status")
	}

	e.cancelMu.Lock()
	cancel, ok := e.cancels[id]
	e.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return e.store.UpdateJobStatus(ctx, id, types.JobCancelled, "cancelled by user")
}

// Delete removes a terminal job.
func (e *Engine) Delete(ctx context.Context, id, callerUserID string, isAdmin bool) error {
	job, err := e.Get(ctx, id, callerUserID, isAdmin)
	if err != nil {
		return err
	}
	if !AllowedActions(job, nil).CanDelete {
		return gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "job cannot be deleted while pending or running")
	}
	return e.store.DeleteJob(ctx, id)
}

// Retry resubmits a failed or partial job as a fresh copy ("copy-retry").
func (e *Engine) Retry(ctx context.Context, id, callerUserID string, isAdmin bool) (*types.Job, error) {
	job, err := e.Get(ctx, id, callerUserID, isAdmin)
	if err != nil {
		return nil, err
	}
	entry, err := e.catalog.Get(job.TaskType)
	if err != nil {
		return nil, err
	}
	if !AllowedActions(job, &entry).CanRetry {
		return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "job type or status does not support retry")
	}
	return e.Submit(ctx, job.TaskType, job.Payload, job.UserID, job.UserType, "retry")
}

// AllowedActions computes the viewer-agnostic action set for job, per
// SPEC_FULL.md §4.8's rules. entry may be nil when retry capability isn't
// needed by the caller.
func AllowedActions(job *types.Job, entry *types.TaskCatalogEntry) types.AllowedActions {
	a := types.AllowedActions{CanView: true}
	switch job.Status {
	case types.JobPending, types.JobRunning:
		a.CanCancel = true
	default:
		a.CanDelete = true
	}
	if entry != nil && entry.RetryCapability == types.RetryCopyRetry {
		a.CanRetry = job.Status == types.JobFailed || job.Status == types.JobPartial
	}
	return a
}

// Run starts cfg.WorkerConcurrency worker goroutines claiming and executing
// jobs until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	workers := e.cfg.WorkerConcurrency
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx)
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	close(e.stopCh)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			job, err := e.store.ClaimNextPending(ctx, e.registry.TaskTypes())
			if err != nil {
				e.logger.ErrorContext(ctx, "failed to claim next job", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			e.execute(ctx, job)
		}
	}
}

func (e *Engine) execute(parent context.Context, job *types.Job) {
	handler, err := e.registry.Get(job.TaskType)
	if err != nil {
		e.fail(parent, job.ID, err)
		return
	}

	runCtx, cancel := context.WithCancel(parent)
	if e.cfg.JobTimeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, e.cfg.JobTimeout)
		defer timeoutCancel()
	}
	e.cancelMu.Lock()
	e.cancels[job.ID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		delete(e.cancels, job.ID)
		e.cancelMu.Unlock()
		cancel()
	}()

	if err := e.store.UpdateJobStatus(runCtx, job.ID, types.JobRunning, ""); err != nil {
		e.logger.ErrorContext(runCtx, "failed to mark job running", "job_id", job.ID, "error", err)
	}

	progress := func(stats map[string]any) {
		if err := e.store.UpdateJobProgress(parent, job.ID, stats); err != nil {
			e.logger.WarnContext(parent, "failed to persist job progress", "job_id", job.ID, "error", err)
		}
	}

	err = handler.Run(runCtx, job, progress)
	switch {
	case err == nil:
		_ = e.store.UpdateJobStatus(parent, job.ID, types.JobCompleted, "")
	case errors.Is(runCtx.Err(), context.Canceled):
		_ = e.store.UpdateJobStatus(parent, job.ID, types.JobCancelled, "")
	default:
		var partial *PartialError
		if errors.As(err, &partial) {
			_ = e.store.UpdateJobStatus(parent, job.ID, types.JobPartial, partial.Error())
		} else {
			e.fail(parent, job.ID, err)
		}
	}
}

func (e *Engine) fail(ctx context.Context, jobID string, err error) {
	if uerr := e.store.UpdateJobStatus(ctx, jobID, types.JobFailed, err.Error()); uerr != nil {
		e.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", jobID, "error", uerr)
	}
}
