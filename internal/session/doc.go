// Package session is the Upload Session Store (C1): persistence for
// in-flight multipart uploads and their parts, and the fingerprint index
// used to detect and resume duplicate uploads.
//
// Status transitions only move forward (initiated -> in_progress ->
// completed/aborted/expired/error); UpdateSession rejects patches once a
// session reaches a terminal status, and rejects any patch that would
// decrease uploaded_parts or bytes_uploaded. UpsertPart is idempotent on
// (upload_id, part_no): re-recording the same part (e.g. a client retry)
// overwrites the row rather than duplicating it.
package session
