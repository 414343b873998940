package indexjobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/objectfs/storage-gateway/internal/fsfacade"
	"github.com/objectfs/storage-gateway/internal/idgen"
	"github.com/objectfs/storage-gateway/internal/searchindex"
	"github.com/objectfs/storage-gateway/internal/task"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// RebuildTaskType is the registered task type for a full mount reindex.
const RebuildTaskType = "fs_index_rebuild"

// RebuildHandler rebuilds the search index for one or more mounts from
// scratch, BFS-walking each mount under a fresh index run and retiring the
// previous run's rows only once the new one is fully flushed.
type RebuildHandler struct {
	index     *searchindex.Store
	fs        *fsfacade.Facade
	batchSize int
	logger    *slog.Logger
}

// NewRebuildHandler builds a RebuildHandler, clamping batchSize into
// [min, max] (defaults 200, [20, 1000] per the index config).
func NewRebuildHandler(index *searchindex.Store, fs *fsfacade.Facade, batchSize, minBatch, maxBatch int, logger *slog.Logger) *RebuildHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildHandler{
		index:     index,
		fs:        fs,
		batchSize: clamp(batchSize, minBatch, maxBatch),
		logger:    logger.With("component", "indexjobs.RebuildHandler"),
	}
}

// TaskType implements types.TaskHandler.
func (h *RebuildHandler) TaskType() string { return RebuildTaskType }

// Validate implements task.Validator: at least one mount_id is required.
func (h *RebuildHandler) Validate(payload map[string]any) error {
	if len(stringSlice(payload, "mount_ids")) == 0 {
		return gwerrors.Validation(gwerrors.ErrCodeMissingField, "mount_ids is required")
	}
	return nil
}

// CreateStatsTemplate implements task.StatsTemplater.
func (h *RebuildHandler) CreateStatsTemplate(payload map[string]any) map[string]any {
	mountIDs := stringSlice(payload, "mount_ids")
	return map[string]any{
		"mountsTotal":     len(mountIDs),
		"mountsCompleted": 0,
		"mountsErrored":   0,
	}
}

// Run implements types.TaskHandler. Each mount is rebuilt independently; a
// failure on one mount marks that mount's index state in error and moves on
// to the next rather than aborting the whole job.
func (h *RebuildHandler) Run(ctx context.Context, job *types.Job, progress types.ProgressFunc) error {
	mountIDs := stringSlice(job.Payload, "mount_ids")
	maxDepth := intVal(job.Payload, "max_depth", -1)

	mountsCompleted := 0
	var erroredMounts []string

	for _, mountID := range mountIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.rebuildMount(ctx, mountID, maxDepth, job, progress); err != nil {
			h.logger.ErrorContext(ctx, "mount rebuild failed", "mount_id", mountID, "error", err)
			erroredMounts = append(erroredMounts, mountID)
			continue
		}
		mountsCompleted++
		progress(map[string]any{
			"mountsTotal":     len(mountIDs),
			"mountsCompleted": mountsCompleted,
			"mountsErrored":   len(erroredMounts),
		})
	}

	if len(erroredMounts) > 0 {
		return &task.PartialError{Err: fmt.Errorf("rebuild failed for mounts: %v", erroredMounts)}
	}
	return nil
}

func (h *RebuildHandler) rebuildMount(ctx context.Context, mountID string, maxDepth int, job *types.Job, progress types.ProgressFunc) error {
	if err := h.index.MarkIndexing(ctx, mountID, job.ID); err != nil {
		return err
	}

	runID := idgen.NewRunID()
	stats := &walkStats{}
	walkErr := walkSubtree(ctx, h.fs, h.index, mountID, "/", maxDepth, h.batchSize, runID, stats, progress)
	if walkErr != nil {
		if merr := h.index.MarkError(ctx, mountID, walkErr.Error()); merr != nil {
			h.logger.ErrorContext(ctx, "failed to mark mount error", "mount_id", mountID, "error", merr)
		}
		return walkErr
	}

	if err := h.index.ReplaceRun(ctx, mountID, runID); err != nil {
		return err
	}
	if err := h.index.ClearDirtyByMount(ctx, mountID); err != nil {
		return err
	}
	return h.index.MarkReady(ctx, mountID, time.Now(), runID)
}
