// Package idgen generates the opaque identifiers the core hands out:
// session/job ids, index run ids, and upload fingerprints.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/objectfs/storage-gateway/pkg/types"
)

// NewID returns a new opaque identifier suitable for a session or job id.
func NewID() string {
	return uuid.NewString()
}

// NewRunID returns a new opaque index run id (C2's no-downtime rebuild tag).
func NewRunID() string {
	return uuid.NewString()
}

// Fingerprint computes the dedupe fingerprint for a prospective upload
// session, over the documented field tuple {user, storage_config, mount,
// fs_path, file_name, file_size}.
func Fingerprint(userID, storageConfigID, mountID, fsPath, fileName string, fileSize int64) types.Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%d", userID, storageConfigID, mountID, fsPath, fileName, fileSize)
	return types.Fingerprint{
		Algorithm: "sha256",
		Value:     hex.EncodeToString(h.Sum(nil)),
	}
}

// DedupeKey computes a dirty-queue coalescing key over (mountID, fsPath, op),
// so concurrent emissions for the same logical change collapse to one row.
func DedupeKey(mountID, fsPath string, op types.DirtyOp) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", mountID, fsPath, op)
	return hex.EncodeToString(h.Sum(nil))
}
