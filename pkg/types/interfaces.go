package types

import (
	"context"
	"io"
	"time"
)

// Driver is the capability-gated adapter a storage backend implements (C3).
// The facade and the upload coordinator dispatch by Capabilities() rather
// than by concrete driver type; a method belonging to a capability the
// driver does not advertise may return ErrUnsupported.
type Driver interface {
	// Capabilities reports the feature set this driver instance supports.
	Capabilities() CapabilitySet

	Exists(ctx context.Context, fsPath string) (bool, error)
	Stat(ctx context.Context, fsPath string) (*ObjectInfo, error)
	ListDirectory(ctx context.Context, fsPath string) ([]ObjectInfo, error)
	DownloadFile(ctx context.Context, fsPath string, r ByteRange) (io.ReadCloser, error)
	CreateDirectory(ctx context.Context, fsPath string) error
	UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error
	UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error
	RenameItem(ctx context.Context, fromPath, toPath string) error
	CopyItem(ctx context.Context, fromPath, toPath string) error
	BatchRemoveItems(ctx context.Context, fsPaths []string) error

	// MultipartDriver is non-nil when CapMultipart is advertised.
	MultipartDriver() MultipartDriver
}

// MultipartDriver is implemented by drivers advertising CapMultipart (C4/C5).
type MultipartDriver interface {
	// Initialize starts (or resumes) a provider-side multipart upload and
	// returns the provider upload id plus any provider-specific metadata.
	Initialize(ctx context.Context, sess *Session) (providerUploadID string, providerMeta map[string]any, err error)

	// Sign returns presigned URLs (or, for single_session drivers, upload
	// tickets the gateway itself will honor) for the given part numbers,
	// using the server_decides gap-finding algorithm to skip already
	// uploaded parts.
	Sign(ctx context.Context, sess *Session, partNumbers []int) ([]SignedPart, error)

	// ListParts returns the provider's authoritative view of uploaded parts,
	// used to reconcile session state on resume.
	ListParts(ctx context.Context, sess *Session) ([]Part, error)

	// Complete finalizes the multipart upload given the client-reported
	// part list (or nil, if the driver is authoritative via ListParts).
	Complete(ctx context.Context, sess *Session, parts []PartRef) (*ObjectInfo, error)

	// Abort releases any provider-side resources associated with the upload.
	Abort(ctx context.Context, sess *Session) error
}

// SignedPart is one element of a Sign response.
type SignedPart struct {
	PartNumber int               `json:"partNumber"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// SessionStore is the durable backing store for Upload Sessions and Parts (C1).
type SessionStore interface {
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListActiveSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int, error)

	UpsertPart(ctx context.Context, part *Part) error
	GetParts(ctx context.Context, uploadID string) ([]Part, error)
	DeleteParts(ctx context.Context, uploadID string) error
	SumUploaded(ctx context.Context, uploadID string) (UploadedStats, error)

	FindByFingerprint(ctx context.Context, fp Fingerprint, mountID, fsPath string) (*Session, error)
}

// SearchIndexStore is the durable backing store for the VFS Search Index (C2).
type SearchIndexStore interface {
	UpsertEntry(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, mountID, fsPath string) error
	GetEntry(ctx context.Context, mountID, fsPath string) (*Entry, error)
	ListDirectory(ctx context.Context, mountID, dirPath string, cursor string, limit int) ([]Entry, string, error)

	EnqueueDirty(ctx context.Context, mountID string, items []DirtyItem) error
	DequeueDirtyBatch(ctx context.Context, mountID string, limit int) ([]DirtyItem, error)
	AckDirty(ctx context.Context, items []DirtyItem) error

	GetMountIndexState(ctx context.Context, mountID string) (*MountIndexState, error)
	SetMountIndexState(ctx context.Context, state MountIndexState) error

	// ReplaceRun atomically swaps the active index run for a mount, used by
	// the no-downtime rebuild handler: rows tagged with runID become live,
	// rows from any older run are removed.
	ReplaceRun(ctx context.Context, mountID, runID string) error

	Search(ctx context.Context, q SearchQuery) (*SearchResponse, error)
}

// TaskHandler executes one Job of a registered task type (C8/C9). Handlers
// must be cooperatively cancellable via ctx and should call progress
// periodically rather than on every unit of work.
type TaskHandler interface {
	TaskType() string
	Run(ctx context.Context, job *Job, progress ProgressFunc) error
}

// ProgressFunc lets a TaskHandler report incremental stats; the engine
// persists each call through JobStore.UpdateJobProgress as it arrives.
type ProgressFunc func(stats map[string]any)

// TaskCatalogEntry describes one registered task type's policy (C8).
type TaskCatalogEntry struct {
	TaskType        string
	Visibility      Visibility
	RetryCapability RetryCapability
	MaxConcurrency  int
	DefaultTimeout  time.Duration
}

// JobStore is the durable backing store for background Jobs (C8).
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, id string, stats map[string]any) error
	ListJobs(ctx context.Context, taskType, userID string, limit int) ([]Job, error)
	ClaimNextPending(ctx context.Context, taskTypes []string) (*Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// MetricsCollector defines the metrics collection interface.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string, size int64)
	RecordCacheMiss(key string, size int64)
	RecordError(operation string, err error)
	GetMetrics() map[string]interface{}
}

// ConfigManager defines configuration management interface.
type ConfigManager interface {
	Get(key string) interface{}
	GetString(key string) string
	GetInt(key string) int
	GetDuration(key string) time.Duration
	GetBool(key string) bool
	Watch(key string, callback func(interface{}))
	Reload() error
}

// HealthChecker defines health monitoring interface.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	RegisterCheck(name string, check func(context.Context) error)
	GetStatus() map[string]HealthStatus
}

// HealthStatus reports the result of a single health check.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CacheStats reports hit/miss counters for the metadata-lookup cache (§5).
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Entries     int     `json:"entries"`
	Capacity    int     `json:"capacity"`
	Evictions   uint64  `json:"evictions"`
	Utilization float64 `json:"utilization"`
}
