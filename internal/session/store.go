// Package session implements the durable Session Store (C1): an
// in-process, mutex-guarded ledger of multipart upload sessions and their
// parts, built to the same contract a real database-backed store would
// honor so the backing implementation can change without touching C4/C5/C6.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/storage-gateway/internal/idgen"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Store is an in-memory types.SessionStore implementation, safe for
// concurrent use. Every exported method treats its receiver session/part as
// a single-row atomic operation, matching the teacher's connection-pool
// style of "lock, mutate, unlock" rather than multi-row transactions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	parts    map[string]map[int]*types.Part // uploadID -> partNo -> Part
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		parts:    make(map[string]map[int]*types.Part),
	}
}

// CreateSession persists a new session with status=initiated, rejecting
// missing required fields and fingerprint collisions with an active
// session owned by a different user.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess.MountID == "" || sess.FSPath == "" || sess.StorageType == "" {
		return gwerrors.Validation(gwerrors.ErrCodeMissingField, "mount_id, fs_path, and storage_type are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Fingerprint.Value != "" {
		for _, existing := range s.sessions {
			if existing.Fingerprint == sess.Fingerprint && !existing.Status.Terminal() && existing.UserID != sess.UserID {
				return gwerrors.New(gwerrors.ErrCodeFingerprintConflict, "an active session with this fingerprint already exists for another user")
			}
		}
	}

	if sess.ID == "" {
		sess.ID = idgen.NewID()
	}
	now := time.Now()
	sess.Status = types.SessionInitiated
	sess.CreatedAt = now
	sess.UpdatedAt = now

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession returns the session with the given id, or NotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodeSessionNotFound, "session not found: "+id)
	}
	cp := *sess
	return &cp, nil
}

// UpdateSession applies patch to the session with the given id, refusing
// updates that would violate session invariants (uploaded_parts/bytes may
// not decrease, terminal sessions may not be mutated).
func (s *Store) UpdateSession(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodeSessionNotFound, "session not found: "+id)
	}
	if sess.Status.Terminal() {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidInput, "cannot update a terminal session")
	}

	if patch.UploadedParts != nil && *patch.UploadedParts < sess.UploadedParts {
		return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "uploaded_parts cannot decrease")
	}
	if patch.BytesUploaded != nil && *patch.BytesUploaded < sess.BytesUploaded {
		return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "bytes_uploaded cannot decrease")
	}

	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.BytesUploaded != nil {
		sess.BytesUploaded = *patch.BytesUploaded
	}
	if patch.UploadedParts != nil {
		sess.UploadedParts = *patch.UploadedParts
	}
	if patch.NextExpectedRange != nil {
		sess.NextExpectedRange = *patch.NextExpectedRange
	}
	if patch.ProviderUploadID != nil {
		sess.ProviderUploadID = *patch.ProviderUploadID
	}
	if patch.ProviderMeta != nil {
		sess.ProviderMeta = patch.ProviderMeta
	}
	if patch.ExpiresAt != nil {
		sess.ExpiresAt = *patch.ExpiresAt
	}
	sess.UpdatedAt = time.Now()

	cp := *sess
	return &cp, nil
}

// DeleteSession removes a session and its parts.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	delete(s.parts, id)
	return nil
}

// ListActiveSessions returns non-terminal sessions matching filter.
func (s *Store) ListActiveSessions(ctx context.Context, filter types.SessionFilter) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Session
	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.StorageType != "" && sess.StorageType != filter.StorageType {
			continue
		}
		if filter.MountID != "" && sess.MountID != filter.MountID {
			continue
		}
		if filter.FSPathPrefix != "" && !strings.HasPrefix(sess.FSPath, filter.FSPathPrefix) {
			continue
		}
		out = append(out, *sess)
	}
	return out, nil
}

// ExpireStaleSessions marks every non-terminal session whose expires_at
// predates olderThan as expired, returning the count affected.
func (s *Store) ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if sess.ExpiresAt.Before(olderThan) {
			sess.Status = types.SessionExpired
			sess.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

// UpsertPart records a part, idempotent on (upload_id, part_no).
func (s *Store) UpsertPart(ctx context.Context, part *types.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[part.UploadID]; !ok {
		return gwerrors.NotFound(gwerrors.ErrCodeSessionNotFound, "session not found: "+part.UploadID)
	}

	if s.parts[part.UploadID] == nil {
		s.parts[part.UploadID] = make(map[int]*types.Part)
	}
	part.UpdatedAt = time.Now()
	cp := *part
	s.parts[part.UploadID][part.PartNo] = &cp
	return nil
}

// DeleteParts purges every part recorded for uploadID, leaving the session
// row itself intact. Called once a session reaches a terminal status
// (completed, aborted, or expired by the reaper) so the parts ledger doesn't grow unbounded for
// sessions that are never explicitly deleted.
func (s *Store) DeleteParts(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.parts, uploadID)
	return nil
}

// GetParts returns every part recorded for uploadID.
func (s *Store) GetParts(ctx context.Context, uploadID string) ([]types.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := s.parts[uploadID]
	out := make([]types.Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, *p)
	}
	return out, nil
}

// SumUploaded aggregates bytes and count across every uploaded part of uploadID.
func (s *Store) SumUploaded(ctx context.Context, uploadID string) (types.UploadedStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats types.UploadedStats
	for _, p := range s.parts[uploadID] {
		if p.Status != types.PartUploaded {
			continue
		}
		stats.TotalBytes += p.Size
		stats.TotalParts++
	}
	return stats, nil
}

// FindByFingerprint returns the active session matching fp for mountID/fsPath.
func (s *Store) FindByFingerprint(ctx context.Context, fp types.Fingerprint, mountID, fsPath string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if sess.MountID == mountID && sess.FSPath == fsPath && sess.Fingerprint == fp {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, gwerrors.NotFound(gwerrors.ErrCodeSessionNotFound, "no active session matches fingerprint")
}
