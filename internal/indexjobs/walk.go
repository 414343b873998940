package indexjobs

import (
	"context"
	"path"
	"strings"

	"github.com/objectfs/storage-gateway/internal/fsfacade"
	"github.com/objectfs/storage-gateway/internal/searchindex"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// walkStats accumulates the intra-mount progress counters named in the
// rebuild/apply-dirty handlers' observability contract.
type walkStats struct {
	ScannedDirs     int
	DiscoveredCount int
	UpsertedCount   int
}

func (s walkStats) asMap(mountID string) map[string]any {
	return map[string]any{
		"mount_id":        mountID,
		"scannedDirs":     s.ScannedDirs,
		"discoveredCount": s.DiscoveredCount,
		"upsertedCount":   s.UpsertedCount,
		"pendingCount":    0,
	}
}

type queueItem struct {
	path  string
	depth int
}

// walkSubtree BFS-walks root within mountID (honoring maxDepth, -1 for
// unlimited), flushing discovered entries to index in batches of batchSize
// tagged with runID, updating stats and calling progress after each flush.
// Descent stops at the first listing error; the error is returned so the
// caller can decide how to record it (markError vs. leave-for-retry).
func walkSubtree(ctx context.Context, fs *fsfacade.Facade, index *searchindex.Store, mountID, root string, maxDepth, batchSize int, runID string, stats *walkStats, progress types.ProgressFunc) error {
	queue := []queueItem{{path: root, depth: 0}}
	visited := make(map[string]bool)
	var pending []types.Entry

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := index.UpsertEntries(ctx, pending, runID); err != nil {
			return err
		}
		stats.UpsertedCount += len(pending)
		pending = pending[:0]
		if progress != nil {
			progress(stats.asMap(mountID))
		}
		return nil
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.path] {
			continue
		}
		visited[item.path] = true
		stats.ScannedDirs++

		children, err := fs.ListDirectory(ctx, mountID, item.path)
		if err != nil {
			return err
		}

		for _, child := range children {
			childPath := joinPath(item.path, child.Key)
			pending = append(pending, types.Entry{
				MountID:    mountID,
				FSPath:     childPath,
				Name:       child.Key,
				IsDir:      child.IsDir,
				Size:       child.Size,
				ModifiedMs: child.LastModified.UnixMilli(),
				MimeType:   child.ContentType,
			})
			stats.DiscoveredCount++

			if child.IsDir && (maxDepth < 0 || item.depth+1 <= maxDepth) {
				queue = append(queue, queueItem{path: childPath, depth: item.depth + 1})
			}
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if progress != nil {
			progress(stats.asMap(mountID))
		}
	}

	return flush()
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func isDirectoryPath(fsPath string) bool {
	return strings.HasSuffix(fsPath, "/") && fsPath != "/"
}

func trimTrailingSlash(fsPath string) string {
	if fsPath == "/" {
		return fsPath
	}
	return strings.TrimSuffix(fsPath, "/")
}

func dirEntryName(fsPath string) string {
	return path.Base(trimTrailingSlash(fsPath))
}
