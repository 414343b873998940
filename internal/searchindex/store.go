// Package searchindex implements the Search Index Store (C2): the entry
// table, its trigram FTS shadow, the dirty-reconciliation queue, and
// per-mount index state, fronting a no-downtime rebuild protocol keyed by
// index_run_id.
package searchindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

const minQueryLength = 3

// Store is an in-memory types.SearchIndexStore implementation, safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	entries  map[string]map[string]*types.Entry            // mountID -> fsPath -> entry
	trigrams map[string]map[string]map[string]struct{}      // mountID -> trigram -> fsPath set
	dirty    map[string]map[string]*types.DirtyItem          // mountID -> dedupeKey -> item
	states   map[string]*types.MountIndexState               // mountID -> state
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries:  make(map[string]map[string]*types.Entry),
		trigrams: make(map[string]map[string]map[string]struct{}),
		dirty:    make(map[string]map[string]*types.DirtyItem),
		states:   make(map[string]*types.MountIndexState),
	}
}

// UpsertEntry inserts or replaces e, reindexing its trigrams.
func (s *Store) UpsertEntry(ctx context.Context, e *types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertEntryLocked(e)
	return nil
}

// UpsertEntries is the batch form callers size themselves (SPEC §4.2: 100-1000
// per call); runID, when non-empty, is stamped onto every row.
func (s *Store) UpsertEntries(ctx context.Context, items []types.Entry, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		e := items[i]
		if runID != "" {
			e.IndexRunID = runID
		}
		s.upsertEntryLocked(&e)
	}
	return nil
}

func (s *Store) upsertEntryLocked(e *types.Entry) {
	mountEntries := s.entries[e.MountID]
	if mountEntries == nil {
		mountEntries = make(map[string]*types.Entry)
		s.entries[e.MountID] = mountEntries
	}
	if old, ok := mountEntries[e.FSPath]; ok {
		s.unindexTrigramsLocked(e.MountID, old)
	}
	cp := *e
	mountEntries[e.FSPath] = &cp
	s.indexTrigramsLocked(e.MountID, &cp)
}

// DeleteEntry removes a single entry.
func (s *Store) DeleteEntry(ctx context.Context, mountID, fsPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteEntryLocked(mountID, fsPath)
	return nil
}

func (s *Store) deleteEntryLocked(mountID, fsPath string) {
	mountEntries := s.entries[mountID]
	if mountEntries == nil {
		return
	}
	if old, ok := mountEntries[fsPath]; ok {
		s.unindexTrigramsLocked(mountID, old)
		delete(mountEntries, fsPath)
	}
}

// DeleteByPathPrefix removes the directory marker at prefix and every
// descendant entry; prefix must end with "/". Returns the count removed.
func (s *Store) DeleteByPathPrefix(ctx context.Context, mountID, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mountEntries := s.entries[mountID]
	if mountEntries == nil {
		return 0, nil
	}
	var victims []string
	for fsPath := range mountEntries {
		if fsPath == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(fsPath, prefix) {
			victims = append(victims, fsPath)
		}
	}
	for _, p := range victims {
		s.deleteEntryLocked(mountID, p)
	}
	return len(victims), nil
}

// GetEntry returns the entry at mountID/fsPath, or NotFound.
func (s *Store) GetEntry(ctx context.Context, mountID, fsPath string) (*types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[mountID][fsPath]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodePathNotFound, "entry not found: "+fsPath)
	}
	cp := *e
	return &cp, nil
}

// ListDirectory returns the direct children of dirPath, directory-first then
// name order, keyset-paginated on the opaque cursor (the last returned
// fs_path).
func (s *Store) ListDirectory(ctx context.Context, mountID, dirPath, cursor string, limit int) ([]types.Entry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirPath = ensureTrailingSlash(dirPath)
	var children []types.Entry
	for fsPath, e := range s.entries[mountID] {
		parent := containingDirectory(fsPath)
		if parent != dirPath {
			continue
		}
		children = append(children, *e)
	}
	sortEntries(children)

	start := 0
	if cursor != "" {
		for i, e := range children {
			if e.FSPath == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = len(children)
	}
	end := start + limit
	if end > len(children) {
		end = len(children)
	}
	if start > len(children) {
		start = len(children)
	}
	page := children[start:end]

	nextCursor := ""
	if end < len(children) && len(page) > 0 {
		nextCursor = page[len(page)-1].FSPath
	}
	return page, nextCursor, nil
}

// EnqueueDirty records items for mountID, coalescing on each item's
// dedupe_key.
func (s *Store) EnqueueDirty(ctx context.Context, mountID string, items []types.DirtyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mountDirty := s.dirty[mountID]
	if mountDirty == nil {
		mountDirty = make(map[string]*types.DirtyItem)
		s.dirty[mountID] = mountDirty
	}
	for i := range items {
		item := items[i]
		item.MountID = mountID
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = time.Now()
		}
		mountDirty[item.DedupeKey] = &item
	}
	return nil
}

// DequeueDirtyBatch returns up to limit pending items for mountID, ordered by
// enqueue time.
func (s *Store) DequeueDirtyBatch(ctx context.Context, mountID string, limit int) ([]types.DirtyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mountDirty := s.dirty[mountID]
	items := make([]types.DirtyItem, 0, len(mountDirty))
	for _, item := range mountDirty {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EnqueuedAt.Before(items[j].EnqueuedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// AckDirty removes the given items from the dirty queue; called only after
// their reconciliation succeeded.
func (s *Store) AckDirty(ctx context.Context, items []types.DirtyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if mountDirty := s.dirty[item.MountID]; mountDirty != nil {
			delete(mountDirty, item.DedupeKey)
		}
	}
	return nil
}

// ClearDirtyByMount discards every pending dirty row for mountID (called
// after a full rebuild retires the need to reconcile them individually).
func (s *Store) ClearDirtyByMount(ctx context.Context, mountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, mountID)
	return nil
}

// GetMountIndexState returns the per-mount index state, or a zero-value
// not_ready state if the mount has never been indexed.
func (s *Store) GetMountIndexState(ctx context.Context, mountID string) (*types.MountIndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[mountID]
	if !ok {
		return &types.MountIndexState{MountID: mountID, Status: types.IndexNotReady}, nil
	}
	cp := *st
	return &cp, nil
}

// GetIndexStates returns the index state for each of mountIDs.
func (s *Store) GetIndexStates(ctx context.Context, mountIDs []string) (map[string]types.MountIndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.MountIndexState, len(mountIDs))
	for _, id := range mountIDs {
		if st, ok := s.states[id]; ok {
			out[id] = *st
		} else {
			out[id] = types.MountIndexState{MountID: id, Status: types.IndexNotReady}
		}
	}
	return out, nil
}

// SetMountIndexState overwrites the stored state for state.MountID.
func (s *Store) SetMountIndexState(ctx context.Context, state types.MountIndexState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	s.states[state.MountID] = &cp
	return nil
}

// MarkIndexing transitions mountID into the indexing state for jobID.
func (s *Store) MarkIndexing(ctx context.Context, mountID, jobID string) error {
	return s.SetMountIndexState(ctx, types.MountIndexState{MountID: mountID, Status: types.IndexIndexing, JobID: jobID})
}

// MarkReady transitions mountID into the ready state as of at.
func (s *Store) MarkReady(ctx context.Context, mountID string, at time.Time, runID string) error {
	return s.SetMountIndexState(ctx, types.MountIndexState{
		MountID:       mountID,
		Status:        types.IndexReady,
		LastRunID:     runID,
		LastIndexedAt: at,
	})
}

// MarkError transitions mountID into the error state with msg.
func (s *Store) MarkError(ctx context.Context, mountID, msg string) error {
	return s.SetMountIndexState(ctx, types.MountIndexState{MountID: mountID, Status: types.IndexError, ErrorMessage: msg})
}

// ReplaceRun atomically swaps the active index run for mountID: every entry
// tagged with a run id other than runID is removed. Used by the rebuild
// handler to retire stale rows without a visibility hole.
func (s *Store) ReplaceRun(ctx context.Context, mountID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mountEntries := s.entries[mountID]
	var victims []string
	for fsPath, e := range mountEntries {
		if e.IndexRunID != runID {
			victims = append(victims, fsPath)
		}
	}
	for _, p := range victims {
		s.deleteEntryLocked(mountID, p)
	}
	return nil
}

// ReplacePrefixRun is ReplaceRun scoped to a subtree, used by apply-dirty's
// directory rebuild branch.
func (s *Store) ReplacePrefixRun(ctx context.Context, mountID, prefix, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mountEntries := s.entries[mountID]
	var victims []string
	for fsPath, e := range mountEntries {
		if !strings.HasPrefix(fsPath, prefix) {
			continue
		}
		if e.IndexRunID != runID {
			victims = append(victims, fsPath)
		}
	}
	for _, p := range victims {
		s.deleteEntryLocked(mountID, p)
	}
	return len(victims), nil
}

func ensureTrailingSlash(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func containingDirectory(fsPath string) string {
	if strings.HasSuffix(fsPath, "/") {
		return fsPath
	}
	idx := strings.LastIndex(fsPath, "/")
	if idx < 0 {
		return "/"
	}
	return fsPath[:idx+1]
}

func sortEntries(entries []types.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.FSPath < b.FSPath
	})
}
