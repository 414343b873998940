package upload

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/objectfs/storage-gateway/internal/config"
	"github.com/objectfs/storage-gateway/internal/driver"
	"github.com/objectfs/storage-gateway/internal/session"
	"github.com/objectfs/storage-gateway/pkg/types"
)

type fakeMultipartDriver struct {
	initCalls int
	aborted   bool
	abortErr  error
}

func (d *fakeMultipartDriver) Initialize(ctx context.Context, sess *types.Session) (string, map[string]any, error) {
	d.initCalls++
	return "provider-upload-1", map[string]any{"bucket": "b"}, nil
}
func (d *fakeMultipartDriver) Sign(ctx context.Context, sess *types.Session, partNumbers []int) ([]types.SignedPart, error) {
	if len(partNumbers) == 0 {
		partNumbers = []int{1}
	}
	out := make([]types.SignedPart, len(partNumbers))
	for i, n := range partNumbers {
		out[i] = types.SignedPart{PartNumber: n, URL: "https://example/part", ExpiresAt: time.Now().Add(time.Minute)}
	}
	return out, nil
}
func (d *fakeMultipartDriver) ListParts(ctx context.Context, sess *types.Session) ([]types.Part, error) {
	return []types.Part{{UploadID: sess.ID, PartNo: 1, Status: types.PartUploaded}}, nil
}
func (d *fakeMultipartDriver) Complete(ctx context.Context, sess *types.Session, parts []types.PartRef) (*types.ObjectInfo, error) {
	return &types.ObjectInfo{Key: sess.FSPath, Size: sess.FileSize}, nil
}
func (d *fakeMultipartDriver) Abort(ctx context.Context, sess *types.Session) error {
	d.aborted = true
	return d.abortErr
}

type fakeDriver struct {
	mpd *fakeMultipartDriver
}

func (d *fakeDriver) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapReader, types.CapWriter, types.CapMultipart)
}
func (d *fakeDriver) Exists(ctx context.Context, fsPath string) (bool, error) { return false, nil }
func (d *fakeDriver) Stat(ctx context.Context, fsPath string) (*types.ObjectInfo, error) {
	return nil, nil
}
func (d *fakeDriver) ListDirectory(ctx context.Context, fsPath string) ([]types.ObjectInfo, error) {
	return nil, nil
}
func (d *fakeDriver) DownloadFile(ctx context.Context, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	return nil, nil
}
func (d *fakeDriver) CreateDirectory(ctx context.Context, fsPath string) error { return nil }
func (d *fakeDriver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return nil
}
func (d *fakeDriver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return nil
}
func (d *fakeDriver) RenameItem(ctx context.Context, fromPath, toPath string) error { return nil }
func (d *fakeDriver) CopyItem(ctx context.Context, fromPath, toPath string) error   { return nil }
func (d *fakeDriver) BatchRemoveItems(ctx context.Context, fsPaths []string) error  { return nil }
func (d *fakeDriver) MultipartDriver() types.MultipartDriver                        { return d.mpd }

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeMultipartDriver) {
	t.Helper()
	reg := driver.NewRegistry()
	mpd := &fakeMultipartDriver{}
	reg.Register("cfg-1", &fakeDriver{mpd: mpd})

	cfg := config.NewDefault().Multipart
	store := session.New()
	return New(store, reg, &cfg, nil), mpd
}

func TestInitializeS3Upload(t *testing.T) {
	c, mpd := newTestCoordinator(t)

	resp, err := c.Initialize(context.Background(), InitRequest{
		UserID:          "user-1",
		StorageType:     "s3",
		StorageConfigID: "cfg-1",
		MountID:         "mount-1",
		FSPath:          "/a/b.bin",
		FileName:        "b.bin",
		FileSize:        15 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TotalParts != 3 {
		t.Errorf("expected 3 parts for 15MiB/5MiB, got %d", resp.TotalParts)
	}
	if len(resp.PresignedURLs) != 3 {
		t.Errorf("expected 3 presigned urls, got %d", len(resp.PresignedURLs))
	}
	if mpd.initCalls != 1 {
		t.Errorf("expected exactly one driver Initialize call, got %d", mpd.initCalls)
	}
	if resp.Policy.SigningMode != types.SigningBatched {
		t.Errorf("expected batched signing mode, got %v", resp.Policy.SigningMode)
	}
}

func TestInitializeResumesByFingerprint(t *testing.T) {
	c, mpd := newTestCoordinator(t)
	req := InitRequest{
		UserID: "user-1", StorageType: "s3", StorageConfigID: "cfg-1",
		MountID: "mount-1", FSPath: "/a/b.bin", FileName: "b.bin", FileSize: 10 * 1024 * 1024,
	}

	first, err := c.Initialize(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Initialize(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Resumed {
		t.Error("expected second call to resume the prior session")
	}
	if second.UploadID != first.UploadID {
		t.Errorf("expected same upload id on resume, got %s vs %s", first.UploadID, second.UploadID)
	}
	if mpd.initCalls != 1 {
		t.Errorf("expected driver Initialize called exactly once, got %d", mpd.initCalls)
	}
}

func TestCompleteMarksSessionCompleted(t *testing.T) {
	c, _ := newTestCoordinator(t)
	resp, err := c.Initialize(context.Background(), InitRequest{
		UserID: "user-1", StorageType: "s3", StorageConfigID: "cfg-1",
		MountID: "mount-1", FSPath: "/a/b.bin", FileName: "b.bin", FileSize: 5 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := c.Complete(context.Background(), resp.UploadID, []types.PartRef{{PartNumber: 1, ETag: "etag1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size != 5*1024*1024 {
		t.Errorf("unexpected size: %d", info.Size)
	}

	active, _ := c.ListActive(context.Background(), types.SessionFilter{})
	if len(active) != 0 {
		t.Errorf("expected completed session to no longer be active, got %d", len(active))
	}
}

func TestAbortMarksSessionAbortedEvenOnDriverError(t *testing.T) {
	c, mpd := newTestCoordinator(t)
	resp, err := c.Initialize(context.Background(), InitRequest{
		UserID: "user-1", StorageType: "s3", StorageConfigID: "cfg-1",
		MountID: "mount-1", FSPath: "/a/b.bin", FileName: "b.bin", FileSize: 5 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mpd.abortErr = errors.New("provider unavailable")
	if err := c.Abort(context.Background(), resp.UploadID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mpd.aborted {
		t.Error("expected driver Abort to be called")
	}

	active, _ := c.ListActive(context.Background(), types.SessionFilter{})
	if len(active) != 0 {
		t.Errorf("expected aborted session to no longer be active, got %d", len(active))
	}
}
