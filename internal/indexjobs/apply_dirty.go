package indexjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/objectfs/storage-gateway/internal/fsfacade"
	"github.com/objectfs/storage-gateway/internal/idgen"
	"github.com/objectfs/storage-gateway/internal/searchindex"
	"github.com/objectfs/storage-gateway/internal/task"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// ApplyDirtyTaskType is the registered task type for dirty-queue reconciliation.
const ApplyDirtyTaskType = "fs_index_apply_dirty"

// ApplyDirtyHandler drains each ready mount's dirty queue, applying upserts
// and deletes to the search index. Rows that fail to apply are left in the
// queue for the next run rather than acknowledged.
type ApplyDirtyHandler struct {
	index            *searchindex.Store
	fs               *fsfacade.Facade
	defaultBatchSize int
	minBatch         int
	maxBatch         int
	logger           *slog.Logger
}

// NewApplyDirtyHandler builds an ApplyDirtyHandler.
func NewApplyDirtyHandler(index *searchindex.Store, fs *fsfacade.Facade, defaultBatchSize, minBatch, maxBatch int, logger *slog.Logger) *ApplyDirtyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplyDirtyHandler{
		index:            index,
		fs:               fs,
		defaultBatchSize: defaultBatchSize,
		minBatch:         minBatch,
		maxBatch:         maxBatch,
		logger:           logger.With("component", "indexjobs.ApplyDirtyHandler"),
	}
}

// TaskType implements types.TaskHandler.
func (h *ApplyDirtyHandler) TaskType() string { return ApplyDirtyTaskType }

// Validate implements task.Validator.
func (h *ApplyDirtyHandler) Validate(payload map[string]any) error {
	if len(stringSlice(payload, "mount_ids")) == 0 {
		return gwerrors.Validation(gwerrors.ErrCodeMissingField, "mount_ids is required")
	}
	return nil
}

// CreateStatsTemplate implements task.StatsTemplater.
func (h *ApplyDirtyHandler) CreateStatsTemplate(payload map[string]any) map[string]any {
	return map[string]any{"mountsProcessed": 0, "mountsSkipped": 0, "rowsApplied": 0}
}

// Run implements types.TaskHandler.
func (h *ApplyDirtyHandler) Run(ctx context.Context, job *types.Job, progress types.ProgressFunc) error {
	mountIDs := stringSlice(job.Payload, "mount_ids")
	take := clamp(intVal(job.Payload, "take", h.defaultBatchSize), h.minBatch, h.maxBatch)
	rebuildSubtree := boolVal(job.Payload, "rebuild_directory_subtree", true)
	maxDepth := intVal(job.Payload, "max_depth", -1)

	var skipped []string
	var mountErrors []string
	rowsApplied := 0

	for _, mountID := range mountIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		state, err := h.index.GetMountIndexState(ctx, mountID)
		if err != nil || state.Status != types.IndexReady {
			skipped = append(skipped, mountID)
			continue
		}

		items, err := h.index.DequeueDirtyBatch(ctx, mountID, take)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to dequeue dirty batch", "mount_id", mountID, "error", err)
			mountErrors = append(mountErrors, mountID)
			continue
		}

		applied, mountFailed := h.applyMount(ctx, mountID, items, rebuildSubtree, maxDepth)
		if len(applied) > 0 {
			if err := h.index.AckDirty(ctx, applied); err != nil {
				h.logger.ErrorContext(ctx, "failed to ack dirty rows", "mount_id", mountID, "error", err)
				mountFailed = true
			}
			rowsApplied += len(applied)
		}
		if mountFailed {
			mountErrors = append(mountErrors, mountID)
		}

		progress(map[string]any{
			"mountsProcessed": len(mountIDs) - len(skipped),
			"mountsSkipped":   len(skipped),
			"rowsApplied":     rowsApplied,
		})
	}

	if len(mountErrors) > 0 {
		return &task.PartialError{Err: fmt.Errorf("apply-dirty failed for mounts: %v", mountErrors)}
	}
	return nil
}

// applyMount applies one mount's dequeued items, returning the subset that
// applied cleanly (safe to acknowledge) and whether any item failed.
func (h *ApplyDirtyHandler) applyMount(ctx context.Context, mountID string, items []types.DirtyItem, rebuildSubtree bool, maxDepth int) ([]types.DirtyItem, bool) {
	var applied []types.DirtyItem
	failed := false

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return applied, true
		}

		var err error
		switch item.Op {
		case types.DirtyDelete:
			err = h.applyDelete(ctx, mountID, item.FSPath)
		case types.DirtyUpsert:
			err = h.applyUpsert(ctx, mountID, item.FSPath, rebuildSubtree, maxDepth)
		default:
			err = fmt.Errorf("unknown dirty op: %s", item.Op)
		}

		if err != nil {
			h.logger.WarnContext(ctx, "dirty row failed to apply, leaving for retry",
				"mount_id", mountID, "fs_path", item.FSPath, "op", item.Op, "error", err)
			failed = true
			continue
		}
		applied = append(applied, item)
	}
	return applied, failed
}

func (h *ApplyDirtyHandler) applyDelete(ctx context.Context, mountID, fsPath string) error {
	if isDirectoryPath(fsPath) {
		_, err := h.index.DeleteByPathPrefix(ctx, mountID, fsPath)
		return err
	}
	err := h.index.DeleteEntry(ctx, mountID, fsPath)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (h *ApplyDirtyHandler) applyUpsert(ctx context.Context, mountID, fsPath string, rebuildSubtree bool, maxDepth int) error {
	target := trimTrailingSlash(fsPath)
	info, err := h.fs.Stat(ctx, mountID, target)
	if err != nil {
		if isNotFound(err) {
			return h.applyDelete(ctx, mountID, fsPath)
		}
		return err
	}

	if info.IsDir && rebuildSubtree {
		runID := idgen.NewRunID()
		dirEntry := types.Entry{
			MountID:  mountID,
			FSPath:   target,
			Name:     dirEntryName(target),
			IsDir:    true,
			MimeType: info.ContentType,
		}
		if err := h.index.UpsertEntries(ctx, []types.Entry{dirEntry}, runID); err != nil {
			return err
		}
		stats := &walkStats{}
		if err := walkSubtree(ctx, h.fs, h.index, mountID, target, maxDepth, h.defaultBatchSize, runID, stats, nil); err != nil {
			return err
		}
		_, err := h.index.ReplacePrefixRun(ctx, mountID, ensureSlash(target), runID)
		return err
	}

	entry := types.Entry{
		MountID:    mountID,
		FSPath:     target,
		Name:       dirEntryName(target),
		IsDir:      info.IsDir,
		Size:       info.Size,
		ModifiedMs: info.LastModified.UnixMilli(),
		MimeType:   info.ContentType,
	}
	return h.index.UpsertEntries(ctx, []types.Entry{entry}, "")
}

func ensureSlash(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if p[len(p)-1] == '/' {
		return p
	}
	return p + "/"
}

func isNotFound(err error) bool {
	var gerr *gwerrors.GatewayError
	return errors.As(err, &gerr) && gerr.Kind == gwerrors.KindNotFound
}
