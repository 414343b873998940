// Package fsfacade implements the VFS Facade (C7): mount-scoped dispatch to
// the driver registry (C3), fronted by the metadata-lookup cache, emitting
// cache/index invalidation events on every mutating operation.
package fsfacade

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/objectfs/storage-gateway/internal/cache"
	"github.com/objectfs/storage-gateway/internal/driver"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// directoryCollapseThreshold is the |dirs| bound past which a batch of
// directory invalidations degrades to a single mount-level invalidation.
const directoryCollapseThreshold = 200

// batchDegradeThreshold is the |paths| bound past which a generic-reason
// invalidation degrades to one upsert of the common directory prefix.
const batchDegradeThreshold = 200

// InvalidationSink receives the dirty-queue rows an invalidation event maps
// to. internal/searchindex.Store implements this.
type InvalidationSink interface {
	EnqueueDirty(ctx context.Context, mountID string, items []types.DirtyItem) error
}

// Facade dispatches VFS operations to the driver bound to each mount's
// storage_config, memoizing stat-shaped lookups in an EntryCache and
// emitting invalidation events to the search index's dirty queue.
type Facade struct {
	registry *driver.Registry
	sink     InvalidationSink
	cache    *cache.EntryCache

	mu     sync.RWMutex
	mounts map[string]types.Mount
}

// New builds a Facade over registry, publishing invalidation events to sink
// and memoizing lookups in entryCache (may be nil to disable caching).
func New(registry *driver.Registry, sink InvalidationSink, entryCache *cache.EntryCache) *Facade {
	return &Facade{
		registry: registry,
		sink:     sink,
		cache:    entryCache,
		mounts:   make(map[string]types.Mount),
	}
}

// RegisterMount binds a mount id to its storage_config and root prefix.
func (f *Facade) RegisterMount(m types.Mount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts[m.ID] = m
}

func (f *Facade) mount(mountID string) (types.Mount, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m, ok := f.mounts[mountID]
	if !ok {
		return types.Mount{}, gwerrors.NotFound(gwerrors.ErrCodeMountNotFound,
			fmt.Sprintf("mount %q not registered", mountID))
	}
	return m, nil
}

func (f *Facade) driverFor(mountID string) (types.Driver, types.Mount, error) {
	m, err := f.mount(mountID)
	if err != nil {
		return nil, types.Mount{}, err
	}
	d, err := f.registry.Get(m.StorageConfigID)
	if err != nil {
		return nil, types.Mount{}, err
	}
	return d, m, nil
}

// Stat returns object metadata for fsPath within mountID, consulting the
// entry cache before the driver.
func (f *Facade) Stat(ctx context.Context, mountID, fsPath string) (*types.ObjectInfo, error) {
	if f.cache != nil {
		if e := f.cache.Get(mountID, fsPath); e != nil {
			return &types.ObjectInfo{Key: e.FSPath, Size: e.Size, IsDir: e.IsDir, ContentType: e.MimeType}, nil
		}
	}

	d, _, err := f.driverFor(mountID)
	if err != nil {
		return nil, err
	}
	info, err := d.Stat(ctx, fsPath)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Put(types.Entry{
			MountID:  mountID,
			FSPath:   fsPath,
			Name:     path.Base(fsPath),
			IsDir:    info.IsDir,
			Size:     info.Size,
			MimeType: info.ContentType,
		})
	}
	return info, nil
}

// Exists reports whether fsPath exists within mountID.
func (f *Facade) Exists(ctx context.Context, mountID, fsPath string) (bool, error) {
	d, _, err := f.driverFor(mountID)
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, fsPath)
}

// ListDirectory lists fsPath's immediate children within mountID.
func (f *Facade) ListDirectory(ctx context.Context, mountID, fsPath string) ([]types.ObjectInfo, error) {
	d, _, err := f.driverFor(mountID)
	if err != nil {
		return nil, err
	}
	return d.ListDirectory(ctx, fsPath)
}

// DownloadFile opens a read stream for fsPath within mountID.
func (f *Facade) DownloadFile(ctx context.Context, mountID, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	d, _, err := f.driverFor(mountID)
	if err != nil {
		return nil, err
	}
	return d.DownloadFile(ctx, fsPath, r)
}

// CreateDirectory creates fsPath as a directory within mountID and emits a
// generic-reason invalidation for it.
func (f *Facade) CreateDirectory(ctx context.Context, mountID, fsPath string) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.CreateDirectory(ctx, fsPath); err != nil {
		return err
	}
	f.invalidateCache(mountID, []string{ensureTrailingSlash(fsPath)})
	return f.invalidate(ctx, m, []string{ensureTrailingSlash(fsPath)}, types.ReasonGeneric)
}

// UploadFile writes fsPath's full contents within mountID and emits a
// generic-reason invalidation for it.
func (f *Facade) UploadFile(ctx context.Context, mountID, fsPath string, r io.Reader, size int64) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.UploadFile(ctx, fsPath, r, size); err != nil {
		return err
	}
	f.invalidateCache(mountID, []string{fsPath})
	return f.invalidate(ctx, m, []string{fsPath}, types.ReasonGeneric)
}

// UpdateFile overwrites fsPath's contents within mountID and emits a
// generic-reason invalidation for it.
func (f *Facade) UpdateFile(ctx context.Context, mountID, fsPath string, r io.Reader, size int64) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.UpdateFile(ctx, fsPath, r, size); err != nil {
		return err
	}
	f.invalidateCache(mountID, []string{fsPath})
	return f.invalidate(ctx, m, []string{fsPath}, types.ReasonGeneric)
}

// RenameItem moves fromPath to toPath within mountID and emits a
// rename-reason invalidation: delete(fromPath), upsert(toPath).
func (f *Facade) RenameItem(ctx context.Context, mountID, fromPath, toPath string) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.RenameItem(ctx, fromPath, toPath); err != nil {
		return err
	}
	f.invalidateCache(mountID, []string{fromPath, toPath})
	return f.invalidate(ctx, m, []string{fromPath, toPath}, types.ReasonRename)
}

// CopyItem copies fromPath to toPath within mountID and emits a
// generic-reason invalidation for toPath.
func (f *Facade) CopyItem(ctx context.Context, mountID, fromPath, toPath string) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.CopyItem(ctx, fromPath, toPath); err != nil {
		return err
	}
	f.invalidateCache(mountID, []string{toPath})
	return f.invalidate(ctx, m, []string{toPath}, types.ReasonGeneric)
}

// BatchRemoveItems deletes fsPaths within mountID and emits a
// batch-remove-reason invalidation: one delete row per path.
func (f *Facade) BatchRemoveItems(ctx context.Context, mountID string, fsPaths []string) error {
	d, m, err := f.driverFor(mountID)
	if err != nil {
		return err
	}
	if err := d.BatchRemoveItems(ctx, fsPaths); err != nil {
		return err
	}
	f.invalidateCache(mountID, fsPaths)
	return f.invalidate(ctx, m, fsPaths, types.ReasonBatchRemove)
}

// invalidateCache applies the directory granularity-collapse rule to the
// entry cache: every affected path is dropped directly, plus its containing
// directory, unless the directory set collapses past
// directoryCollapseThreshold — in which case every entry for the mount is
// dropped in one pass instead of invalidating each directory individually.
func (f *Facade) invalidateCache(mountID string, paths []string) {
	if f.cache == nil {
		return
	}
	dirs := DirectoryInvalidationPaths(paths)
	if dirs == nil {
		f.cache.InvalidateMount(mountID)
		return
	}
	for _, p := range paths {
		f.cache.Invalidate(mountID, p)
	}
	for _, dir := range dirs {
		f.cache.Invalidate(mountID, dir)
	}
}

// invalidate maps an invalidation event into dirty-queue rows per the
// facade's degrade rules and enqueues them.
func (f *Facade) invalidate(ctx context.Context, m types.Mount, paths []string, reason types.InvalidationReason) error {
	event := types.InvalidationEvent{
		MountID:         m.ID,
		StorageConfigID: m.StorageConfigID,
		Paths:           paths,
		Reason:          reason,
	}
	items := mapToDirtyItems(event)
	if f.sink == nil || len(items) == 0 {
		return nil
	}
	return f.sink.EnqueueDirty(ctx, m.ID, items)
}

// mapToDirtyItems applies the facade's event-to-dirty-queue mapping rules.
func mapToDirtyItems(event types.InvalidationEvent) []types.DirtyItem {
	switch event.Reason {
	case types.ReasonRename:
		if len(event.Paths) != 2 {
			return nil
		}
		return []types.DirtyItem{
			{MountID: event.MountID, FSPath: event.Paths[0], Op: types.DirtyDelete},
			{MountID: event.MountID, FSPath: event.Paths[1], Op: types.DirtyUpsert},
		}

	case types.ReasonBatchRemove:
		items := make([]types.DirtyItem, 0, len(event.Paths))
		for _, p := range event.Paths {
			items = append(items, types.DirtyItem{MountID: event.MountID, FSPath: p, Op: types.DirtyDelete})
		}
		return items

	default:
		if len(event.Paths) > batchDegradeThreshold {
			return []types.DirtyItem{
				{MountID: event.MountID, FSPath: commonDirectoryPrefix(event.Paths), Op: types.DirtyUpsert},
			}
		}
		items := make([]types.DirtyItem, 0, len(event.Paths))
		for _, p := range event.Paths {
			items = append(items, types.DirtyItem{MountID: event.MountID, FSPath: p, Op: types.DirtyUpsert})
		}
		return items
	}
}

// DirectoryInvalidationPaths applies the granularity-collapse rule: each
// path is normalized to its containing directory (a file to its parent, a
// directory to itself), deduplicated, and if more than
// directoryCollapseThreshold directories remain the whole set collapses to
// a mount-level invalidation (an empty path list).
func DirectoryInvalidationPaths(paths []string) []string {
	dirs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		dirs[containingDirectory(p)] = struct{}{}
	}

	if len(dirs) > directoryCollapseThreshold {
		return nil
	}

	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	return out
}

func containingDirectory(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return ensureTrailingSlash(dir)
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// commonDirectoryPrefix returns the deepest directory common to every path.
func commonDirectoryPrefix(paths []string) string {
	if len(paths) == 0 {
		return "/"
	}

	segments := strings.Split(strings.Trim(paths[0], "/"), "/")
	if !strings.HasSuffix(paths[0], "/") && len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}

	for _, p := range paths[1:] {
		candidate := strings.Split(strings.Trim(p, "/"), "/")
		if !strings.HasSuffix(p, "/") && len(candidate) > 0 {
			candidate = candidate[:len(candidate)-1]
		}

		max := len(segments)
		if len(candidate) < max {
			max = len(candidate)
		}
		i := 0
		for ; i < max; i++ {
			if segments[i] != candidate[i] {
				break
			}
		}
		segments = segments[:i]
	}

	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/") + "/"
}
