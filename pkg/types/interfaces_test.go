package types

import (
	"context"
	"io"
	"testing"
	"time"
)

// TestInterfaces verifies that our interfaces are properly structured
func TestInterfaces(t *testing.T) {
	var (
		_ Driver           = (*mockDriver)(nil)
		_ MultipartDriver  = (*mockMultipartDriver)(nil)
		_ SessionStore     = (*mockSessionStore)(nil)
		_ SearchIndexStore = (*mockSearchIndexStore)(nil)
		_ JobStore         = (*mockJobStore)(nil)
		_ TaskHandler      = (*mockTaskHandler)(nil)
		_ MetricsCollector = (*mockMetricsCollector)(nil)
		_ ConfigManager    = (*mockConfigManager)(nil)
		_ HealthChecker    = (*mockHealthChecker)(nil)
	)
}

// Mock implementations for testing interface compliance

type mockDriver struct {
	caps CapabilitySet
	mp   *mockMultipartDriver
}

func (m *mockDriver) Capabilities() CapabilitySet { return m.caps }

func (m *mockDriver) Exists(ctx context.Context, fsPath string) (bool, error) { return false, nil }

func (m *mockDriver) Stat(ctx context.Context, fsPath string) (*ObjectInfo, error) { return nil, nil }

func (m *mockDriver) ListDirectory(ctx context.Context, fsPath string) ([]ObjectInfo, error) {
	return nil, nil
}

func (m *mockDriver) DownloadFile(ctx context.Context, fsPath string, r ByteRange) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockDriver) CreateDirectory(ctx context.Context, fsPath string) error { return nil }

func (m *mockDriver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return nil
}

func (m *mockDriver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return nil
}

func (m *mockDriver) RenameItem(ctx context.Context, fromPath, toPath string) error { return nil }

func (m *mockDriver) CopyItem(ctx context.Context, fromPath, toPath string) error { return nil }

func (m *mockDriver) BatchRemoveItems(ctx context.Context, fsPaths []string) error { return nil }

func (m *mockDriver) MultipartDriver() MultipartDriver {
	if m.mp == nil {
		return nil
	}
	return m.mp
}

type mockMultipartDriver struct{}

func (m *mockMultipartDriver) Initialize(ctx context.Context, sess *Session) (string, map[string]any, error) {
	return "", nil, nil
}

func (m *mockMultipartDriver) Sign(ctx context.Context, sess *Session, partNumbers []int) ([]SignedPart, error) {
	return nil, nil
}

func (m *mockMultipartDriver) ListParts(ctx context.Context, sess *Session) ([]Part, error) {
	return nil, nil
}

func (m *mockMultipartDriver) Complete(ctx context.Context, sess *Session, parts []PartRef) (*ObjectInfo, error) {
	return nil, nil
}

func (m *mockMultipartDriver) Abort(ctx context.Context, sess *Session) error { return nil }

type mockSessionStore struct{}

func (m *mockSessionStore) CreateSession(ctx context.Context, sess *Session) error { return nil }

func (m *mockSessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return nil, nil
}

func (m *mockSessionStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*Session, error) {
	return nil, nil
}

func (m *mockSessionStore) DeleteSession(ctx context.Context, id string) error { return nil }

func (m *mockSessionStore) ListActiveSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	return nil, nil
}

func (m *mockSessionStore) ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func (m *mockSessionStore) UpsertPart(ctx context.Context, part *Part) error { return nil }

func (m *mockSessionStore) GetParts(ctx context.Context, uploadID string) ([]Part, error) {
	return nil, nil
}

func (m *mockSessionStore) DeleteParts(ctx context.Context, uploadID string) error { return nil }

func (m *mockSessionStore) SumUploaded(ctx context.Context, uploadID string) (UploadedStats, error) {
	return UploadedStats{}, nil
}

func (m *mockSessionStore) FindByFingerprint(ctx context.Context, fp Fingerprint, mountID, fsPath string) (*Session, error) {
	return nil, nil
}

type mockSearchIndexStore struct{}

func (m *mockSearchIndexStore) UpsertEntry(ctx context.Context, e *Entry) error { return nil }

func (m *mockSearchIndexStore) DeleteEntry(ctx context.Context, mountID, fsPath string) error {
	return nil
}

func (m *mockSearchIndexStore) GetEntry(ctx context.Context, mountID, fsPath string) (*Entry, error) {
	return nil, nil
}

func (m *mockSearchIndexStore) ListDirectory(ctx context.Context, mountID, dirPath string, cursor string, limit int) ([]Entry, string, error) {
	return nil, "", nil
}

func (m *mockSearchIndexStore) EnqueueDirty(ctx context.Context, mountID string, items []DirtyItem) error {
	return nil
}

func (m *mockSearchIndexStore) DequeueDirtyBatch(ctx context.Context, mountID string, limit int) ([]DirtyItem, error) {
	return nil, nil
}

func (m *mockSearchIndexStore) AckDirty(ctx context.Context, items []DirtyItem) error { return nil }

func (m *mockSearchIndexStore) GetMountIndexState(ctx context.Context, mountID string) (*MountIndexState, error) {
	return nil, nil
}

func (m *mockSearchIndexStore) SetMountIndexState(ctx context.Context, state MountIndexState) error {
	return nil
}

func (m *mockSearchIndexStore) ReplaceRun(ctx context.Context, mountID, runID string) error {
	return nil
}

func (m *mockSearchIndexStore) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	return nil, nil
}

type mockJobStore struct{}

func (m *mockJobStore) CreateJob(ctx context.Context, job *Job) error { return nil }

func (m *mockJobStore) GetJob(ctx context.Context, id string) (*Job, error) { return nil, nil }

func (m *mockJobStore) UpdateJobStatus(ctx context.Context, id string, status JobStatus, errMsg string) error {
	return nil
}

func (m *mockJobStore) UpdateJobProgress(ctx context.Context, id string, stats map[string]any) error {
	return nil
}

func (m *mockJobStore) ListJobs(ctx context.Context, taskType, userID string, limit int) ([]Job, error) {
	return nil, nil
}

func (m *mockJobStore) ClaimNextPending(ctx context.Context, taskTypes []string) (*Job, error) {
	return nil, nil
}

func (m *mockJobStore) DeleteJob(ctx context.Context, id string) error { return nil }

type mockTaskHandler struct{}

func (m *mockTaskHandler) TaskType() string { return "mock" }

func (m *mockTaskHandler) Run(ctx context.Context, job *Job, progress ProgressFunc) error {
	return nil
}

type mockMetricsCollector struct{}

func (m *mockMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}

func (m *mockMetricsCollector) RecordCacheHit(key string, size int64) {}

func (m *mockMetricsCollector) RecordCacheMiss(key string, size int64) {}

func (m *mockMetricsCollector) RecordError(operation string, err error) {}

func (m *mockMetricsCollector) GetMetrics() map[string]interface{} {
	return nil
}

type mockConfigManager struct{}

func (m *mockConfigManager) Get(key string) interface{} {
	return nil
}

func (m *mockConfigManager) GetString(key string) string {
	return ""
}

func (m *mockConfigManager) GetInt(key string) int {
	return 0
}

func (m *mockConfigManager) GetDuration(key string) time.Duration {
	return 0
}

func (m *mockConfigManager) GetBool(key string) bool {
	return false
}

func (m *mockConfigManager) Watch(key string, callback func(interface{})) {}

func (m *mockConfigManager) Reload() error {
	return nil
}

type mockHealthChecker struct{}

func (m *mockHealthChecker) Check(ctx context.Context) HealthStatus {
	return HealthStatus{}
}

func (m *mockHealthChecker) RegisterCheck(name string, check func(context.Context) error) {}

func (m *mockHealthChecker) GetStatus() map[string]HealthStatus {
	return nil
}

func TestCapabilitySet(t *testing.T) {
	s := NewCapabilitySet(CapReader, CapMultipart)
	if !s.Has(CapReader) {
		t.Error("expected CapReader in set")
	}
	if !s.Has(CapMultipart) {
		t.Error("expected CapMultipart in set")
	}
	if s.Has(CapProxy) {
		t.Error("did not expect CapProxy in set")
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	cases := map[SessionStatus]bool{
		SessionInitiated:  false,
		SessionInProgress: false,
		SessionCompleted:  true,
		SessionAborted:    true,
		SessionExpired:    true,
		SessionError:      false,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("Status(%s).Terminal() = %v, want %v", status, got, want)
		}
	}
}
