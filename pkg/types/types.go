package types

import "time"

// UploadStrategy selects how part bytes reach the backend.
type UploadStrategy string

const (
	// StrategyPerPartURL has the client PUT each part directly to the backend
	// using a presigned URL (S3-style).
	StrategyPerPartURL UploadStrategy = "per_part_url"
	// StrategySingleSession has the client PUT each part to the gateway, which
	// forwards it to the backend (Telegram-style).
	StrategySingleSession UploadStrategy = "single_session"
)

// SessionStatus is the lifecycle state of an Upload Session.
type SessionStatus string

const (
	SessionInitiated  SessionStatus = "initiated"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAborted    SessionStatus = "aborted"
	SessionExpired    SessionStatus = "expired"
	SessionError      SessionStatus = "error"
)

// Terminal reports whether the session can no longer be mutated.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionAborted, SessionExpired:
		return true
	default:
		return false
	}
}

// Fingerprint deduplicates resumable uploads targeting the same logical file.
type Fingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Session is the durable record for one in-flight (or terminated) multipart upload (C1).
type Session struct {
	ID                string         `json:"id"`
	StorageType       string         `json:"storage_type"`
	StorageConfigID   string         `json:"storage_config_id"`
	MountID           string         `json:"mount_id"`
	FSPath            string         `json:"fs_path"`
	FileName          string         `json:"file_name"`
	FileSize          int64          `json:"file_size"`
	MimeType          string         `json:"mime_type"`
	Strategy          UploadStrategy `json:"strategy"`
	PartSize          int64          `json:"part_size"`
	TotalParts        int            `json:"total_parts"`
	BytesUploaded     int64          `json:"bytes_uploaded"`
	UploadedParts     int            `json:"uploaded_parts"`
	NextExpectedRange string         `json:"next_expected_range,omitempty"`
	ProviderUploadID  string         `json:"provider_upload_id,omitempty"`
	ProviderMeta      map[string]any `json:"provider_meta,omitempty"`
	Status            SessionStatus  `json:"status"`
	UserID            string         `json:"user_id"`
	Fingerprint       Fingerprint    `json:"fingerprint"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
}

// PartStatus is the lifecycle state of a single Upload Part.
type PartStatus string

const (
	PartPending   PartStatus = "pending"
	PartUploading PartStatus = "uploading"
	PartUploaded  PartStatus = "uploaded"
	PartError     PartStatus = "error"
)

// Part is one row per part per session (C1). (UploadID, PartNo) is the primary key.
type Part struct {
	UploadID       string         `json:"upload_id"`
	PartNo         int            `json:"part_no"`
	ByteStart      int64          `json:"byte_start"`
	ByteEnd        int64          `json:"byte_end"`
	Size           int64          `json:"size"`
	Status         PartStatus     `json:"status"`
	ProviderPartID string         `json:"provider_part_id,omitempty"`
	ProviderMeta   map[string]any `json:"provider_meta,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SessionFilter restricts listActiveSessions (C1).
type SessionFilter struct {
	UserID        string
	StorageType   string
	MountID       string
	FSPathPrefix  string
}

// SessionPatch carries a partial update to a Session; nil fields are left untouched.
type SessionPatch struct {
	Status            *SessionStatus
	BytesUploaded     *int64
	UploadedParts     *int
	NextExpectedRange *string
	ProviderUploadID  *string
	ProviderMeta      map[string]any
	ExpiresAt         *time.Time
}

// UploadedStats aggregates bytes and part counts across a set of sessions.
type UploadedStats struct {
	TotalBytes int64
	TotalParts int
}

// Entry is one row per indexed VFS node (C2). (MountID, FSPath) is the primary key.
type Entry struct {
	MountID     string    `json:"mount_id"`
	FSPath      string    `json:"fs_path"`
	Name        string    `json:"name"`
	IsDir       bool      `json:"is_dir"`
	Size        int64     `json:"size"`
	ModifiedMs  int64     `json:"modified_ms"`
	MimeType    string    `json:"mimetype"`
	IndexRunID  string    `json:"index_run_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DirtyOp is the operation recorded by a dirty-queue item.
type DirtyOp string

const (
	DirtyUpsert DirtyOp = "upsert"
	DirtyDelete DirtyOp = "delete"
)

// DirtyItem is a pending index reconciliation (C2), deduplicated by DedupeKey.
type DirtyItem struct {
	MountID    string    `json:"mount_id"`
	FSPath     string    `json:"fs_path"`
	Op         DirtyOp   `json:"op"`
	DedupeKey  string    `json:"dedupe_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// IndexStatus is the state of a mount's search index.
type IndexStatus string

const (
	IndexNotReady IndexStatus = "not_ready"
	IndexIndexing IndexStatus = "indexing"
	IndexReady    IndexStatus = "ready"
	IndexError    IndexStatus = "error"
)

// MountIndexState is the per-mount index status row (C2).
type MountIndexState struct {
	MountID       string      `json:"mount_id"`
	Status        IndexStatus `json:"status"`
	LastRunID     string      `json:"last_run_id,omitempty"`
	LastIndexedAt time.Time   `json:"last_indexed_at,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	JobID         string      `json:"job_id,omitempty"`
}

// SearchScope restricts a search query to a subset of mounts.
type SearchScope string

const (
	ScopeGlobal    SearchScope = "global"
	ScopeMount     SearchScope = "mount"
	ScopeDirectory SearchScope = "directory"
)

// SearchQuery is the input to Store.Search.
type SearchQuery struct {
	Query          string
	AllowedMountIDs []string
	Scope          SearchScope
	MountID        string
	PathPrefix     string
	Limit          int
	Cursor         string
}

// SearchResult describes a single matched entry.
type SearchResult struct {
	MountID string `json:"mount_id"`
	Entry   Entry  `json:"entry"`
}

// SearchResponse is the output of Store.Search.
type SearchResponse struct {
	Results               []SearchResult `json:"results"`
	Total                 *int           `json:"total,omitempty"`
	HasMore               bool           `json:"has_more"`
	NextCursor            string         `json:"next_cursor,omitempty"`
	IndexReady            bool           `json:"index_ready"`
	SkippedMounts         []string       `json:"skipped_mounts,omitempty"`
	IndexNotReadyMountIDs []string       `json:"index_not_ready_mount_ids,omitempty"`
}

// Capability is a feature a driver may expose; the facade dispatches by
// capability set rather than by concrete driver type (C3).
type Capability string

const (
	CapReader    Capability = "READER"
	CapWriter    Capability = "WRITER"
	CapProxy     Capability = "PROXY"
	CapMultipart Capability = "MULTIPART"
	CapAtomic    Capability = "ATOMIC"
	CapPresigned Capability = "PRESIGNED"
)

// CapabilitySet is an immutable set of Capability values.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a CapabilitySet from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the given capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// ObjectInfo is backend-neutral metadata about a stored object.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	Metadata     map[string]string `json:"metadata"`
	IsDir        bool              `json:"is_dir"`
}

// ByteRange is an inclusive byte range, as parsed from a Content-Range header.
type ByteRange struct {
	Start int64
	End   int64
	Total int64 // -1 when the header used "*"
}

// PartRef is a client-reported uploaded part, supplied to Complete.
type PartRef struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// SigningMode controls how the Upload Coordinator's policy object is rendered.
type SigningMode string

const (
	SigningBatched       SigningMode = "batched"
	SigningSingleSession SigningMode = "single_session"
)

// PartsLedgerPolicy tells the client who is authoritative for the parts list.
type PartsLedgerPolicy string

const (
	LedgerServerCanList  PartsLedgerPolicy = "server_can_list"
	LedgerServerRecords  PartsLedgerPolicy = "server_records"
)

// Policy is the normalized policy object returned alongside multipart responses (C6).
type Policy struct {
	SigningMode       SigningMode       `json:"signingMode"`
	RefreshPolicy     string            `json:"refreshPolicy"`
	PartsLedgerPolicy PartsLedgerPolicy `json:"partsLedgerPolicy"`
	MaxPartsPerRequest int              `json:"maxPartsPerRequest"`
	URLTTLSeconds     int               `json:"urlTtlSeconds,omitempty"`
	RetryPolicy       RetryPolicy       `json:"retryPolicy"`
}

// RetryPolicy is the client-visible retry contract.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
}

// JobStatus is the lifecycle state of a background Job (C8).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is a tracked background task record (C8).
type Job struct {
	ID           string         `json:"job_id"`
	TaskType     string         `json:"task_type"`
	Status       JobStatus      `json:"status"`
	Payload      map[string]any `json:"payload"`
	Stats        map[string]any `json:"stats"`
	UserID       string         `json:"user_id"`
	UserType     string         `json:"user_type"`
	Trigger      string         `json:"trigger"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// RetryCapability describes whether a job type supports a manual retry action.
type RetryCapability string

const (
	RetryNone      RetryCapability = "none"
	RetryCopyRetry RetryCapability = "copy-retry"
)

// Visibility controls who may list/view a job type in the catalog.
type Visibility string

const (
	VisibilityAdminOnly Visibility = "admin-only"
	VisibilityOwnerOnly Visibility = "owner-only"
)

// AllowedActions is the computed set of actions a caller may take on a job.
type AllowedActions struct {
	CanView   bool `json:"can_view"`
	CanCancel bool `json:"can_cancel"`
	CanDelete bool `json:"can_delete"`
	CanRetry  bool `json:"can_retry"`
}

// InvalidationReason classifies a cache-invalidation event emitted by the facade (C7).
type InvalidationReason string

const (
	ReasonRename      InvalidationReason = "rename"
	ReasonBatchRemove InvalidationReason = "batch-remove"
	ReasonGeneric     InvalidationReason = "*"
)

// InvalidationEvent is emitted by every mutating FS Facade operation on success.
type InvalidationEvent struct {
	MountID         string
	StorageConfigID string
	Paths           []string
	Reason          InvalidationReason
}

// S3StorageConfig carries S3-compatible driver connection details.
type S3StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	UseAccelerate   bool
}

// TelegramStorageConfig carries the Telegram Bot API driver's connection
// details and its per-storage_config concurrency limit.
type TelegramStorageConfig struct {
	BotToken         string
	ChatID           string
	ConcurrencyLimit int
}

// StorageConfig binds a storage_type to the credentials/endpoint a driver
// needs, selected by storage_type + storage_config_id.
type StorageConfig struct {
	ID          string
	StorageType string // "s3", "telegram", "virtual"
	S3          *S3StorageConfig
	Telegram    *TelegramStorageConfig
}

// Mount binds a VFS subtree (rootPrefix) to one StorageConfig.
type Mount struct {
	ID              string
	StorageConfigID string
	RootPrefix      string
	Name            string
}
