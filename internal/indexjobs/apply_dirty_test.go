package indexjobs

import (
	"context"
	"testing"
	"time"

	"github.com/objectfs/storage-gateway/pkg/types"
)

func readyState(mountID string) types.MountIndexState {
	return types.MountIndexState{MountID: mountID, Status: types.IndexReady, LastIndexedAt: time.Now(), LastRunID: "run-0"}
}

func TestApplyDirtySkipsUnreadyMount(t *testing.T) {
	facade, _ := newTestFacade(t, "mount-1", map[string]fakeNode{})
	index := newTestIndex()
	h := NewApplyDirtyHandler(index, facade, 200, 20, 1000, nil)

	job := &types.Job{ID: "job-1", Payload: map[string]any{"mount_ids": []any{"mount-1"}}}
	var lastStats map[string]any
	if err := h.Run(context.Background(), job, func(s map[string]any) { lastStats = s }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastStats != nil {
		t.Fatal("expected no progress calls for an all-skipped run")
	}
}

func TestApplyDirtyUpsertsFile(t *testing.T) {
	facade, _ := newTestFacade(t, "mount-1", map[string]fakeNode{"/a.txt": {size: 42}})
	index := newTestIndex()
	if err := index.SetMountIndexState(context.Background(), readyState("mount-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := index.EnqueueDirty(context.Background(), "mount-1", []types.DirtyItem{
		{MountID: "mount-1", FSPath: "/a.txt", Op: types.DirtyUpsert, DedupeKey: "k1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewApplyDirtyHandler(index, facade, 200, 20, 1000, nil)
	job := &types.Job{ID: "job-1", Payload: map[string]any{"mount_ids": []any{"mount-1"}}}
	if err := h.Run(context.Background(), job, func(map[string]any) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := index.GetEntry(context.Background(), "mount-1", "/a.txt")
	if err != nil {
		t.Fatalf("expected /a.txt to be indexed: %v", err)
	}
	if entry.Size != 42 {
		t.Fatalf("expected size 42, got %d", entry.Size)
	}

	batch, err := index.DequeueDirtyBatch(context.Background(), "mount-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 0 {
		t.Fatal("expected the applied dirty row to be acknowledged and removed")
	}
}

func TestApplyDirtyUpsertOnMissingFileTreatedAsDelete(t *testing.T) {
	facade, _ := newTestFacade(t, "mount-1", map[string]fakeNode{})
	index := newTestIndex()
	if err := index.SetMountIndexState(context.Background(), readyState("mount-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := index.UpsertEntry(context.Background(), &types.Entry{MountID: "mount-1", FSPath: "/gone.txt", Name: "gone.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := index.EnqueueDirty(context.Background(), "mount-1", []types.DirtyItem{
		{MountID: "mount-1", FSPath: "/gone.txt", Op: types.DirtyUpsert, DedupeKey: "k1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewApplyDirtyHandler(index, facade, 200, 20, 1000, nil)
	job := &types.Job{ID: "job-1", Payload: map[string]any{"mount_ids": []any{"mount-1"}}}
	if err := h.Run(context.Background(), job, func(map[string]any) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := index.GetEntry(context.Background(), "mount-1", "/gone.txt"); err == nil {
		t.Fatal("expected entry to be removed when stat 404s")
	}
}

func TestApplyDirtyDeleteDirectoryRemovesSubtree(t *testing.T) {
	facade, _ := newTestFacade(t, "mount-1", map[string]fakeNode{})
	index := newTestIndex()
	if err := index.SetMountIndexState(context.Background(), readyState("mount-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range []types.Entry{
		{MountID: "mount-1", FSPath: "/dir", Name: "dir", IsDir: true},
		{MountID: "mount-1", FSPath: "/dir/child.txt", Name: "child.txt"},
	} {
		cp := e
		if err := index.UpsertEntry(context.Background(), &cp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := index.EnqueueDirty(context.Background(), "mount-1", []types.DirtyItem{
		{MountID: "mount-1", FSPath: "/dir/", Op: types.DirtyDelete, DedupeKey: "k1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewApplyDirtyHandler(index, facade, 200, 20, 1000, nil)
	job := &types.Job{ID: "job-1", Payload: map[string]any{"mount_ids": []any{"mount-1"}}}
	if err := h.Run(context.Background(), job, func(map[string]any) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := index.GetEntry(context.Background(), "mount-1", "/dir"); err == nil {
		t.Fatal("expected directory entry to be removed")
	}
	if _, err := index.GetEntry(context.Background(), "mount-1", "/dir/child.txt"); err == nil {
		t.Fatal("expected subtree entry to be removed")
	}
}

func TestApplyDirtyUpsertDirectoryRebuildsSubtree(t *testing.T) {
	facade, _ := newTestFacade(t, "mount-1", map[string]fakeNode{
		"/dir":          {isDir: true},
		"/dir/new.txt":  {size: 5},
		"/dir/more.txt": {size: 6},
	})
	index := newTestIndex()
	if err := index.SetMountIndexState(context.Background(), readyState("mount-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := index.UpsertEntry(context.Background(), &types.Entry{MountID: "mount-1", FSPath: "/dir/stale.txt", Name: "stale.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := index.EnqueueDirty(context.Background(), "mount-1", []types.DirtyItem{
		{MountID: "mount-1", FSPath: "/dir/", Op: types.DirtyUpsert, DedupeKey: "k1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := NewApplyDirtyHandler(index, facade, 200, 20, 1000, nil)
	job := &types.Job{ID: "job-1", Payload: map[string]any{"mount_ids": []any{"mount-1"}}}
	if err := h.Run(context.Background(), job, func(map[string]any) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := index.GetEntry(context.Background(), "mount-1", "/dir/new.txt"); err != nil {
		t.Fatalf("expected /dir/new.txt to be indexed: %v", err)
	}
	if _, err := index.GetEntry(context.Background(), "mount-1", "/dir/stale.txt"); err == nil {
		t.Fatal("expected stale subtree entry to be retired by the directory rebuild")
	}
}
