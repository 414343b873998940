package telegram

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Initialize has no provider-side multipart upload to create: Telegram
// knows nothing about the session until the first chunk lands. It only
// mints a provider upload id and records the chat the parts will land in.
func (d *Driver) Initialize(ctx context.Context, sess *types.Session) (string, map[string]any, error) {
	return "tg-" + sess.ID, map[string]any{"chat_id": d.chatID}, nil
}

// Sign is rarely exercised for a single_session driver (the coordinator's
// Initialize flow hands the client an upload-chunk URL directly), but
// remains available for a client that calls /multipart/sign explicitly: it
// hands back upload tickets for the requested (or next-missing) parts,
// pointing at the same chunk-ingestion endpoint rather than a presigned URL.
func (d *Driver) Sign(ctx context.Context, sess *types.Session, partNumbers []int) ([]types.SignedPart, error) {
	nums := partNumbers
	if len(nums) == 0 {
		uploaded, err := d.uploadedPartNumbers(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		for n := 1; n <= sess.TotalParts; n++ {
			if !uploaded[n] {
				nums = append(nums, n)
				break
			}
		}
	}

	ticket := fmt.Sprintf("/api/fs/multipart/upload-chunk?upload_id=%s", sess.ID)
	out := make([]types.SignedPart, 0, len(nums))
	for _, n := range nums {
		out = append(out, types.SignedPart{PartNumber: n, URL: ticket, ExpiresAt: sess.ExpiresAt})
	}
	return out, nil
}

// ListParts returns this driver's own idempotency ledger, since Telegram has
// no server-side concept of an in-progress multipart upload to query.
func (d *Driver) ListParts(ctx context.Context, sess *types.Session) ([]types.Part, error) {
	return d.sessions.GetParts(ctx, sess.ID)
}

func (d *Driver) uploadedPartNumbers(ctx context.Context, uploadID string) (map[int]bool, error) {
	parts, err := d.sessions.GetParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(parts))
	for _, p := range parts {
		if p.Status == types.PartUploaded {
			out[p.PartNo] = true
		}
	}
	return out, nil
}

// Complete verifies every part landed, builds the chunk manifest, and
// writes it as the object's content_ref.
func (d *Driver) Complete(ctx context.Context, sess *types.Session, partRefs []types.PartRef) (*types.ObjectInfo, error) {
	parts, err := d.sessions.GetParts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	byPartNo := make(map[int]types.Part, len(parts))
	for _, p := range parts {
		byPartNo[p.PartNo] = p
	}

	manifestParts := make([]manifestPart, 0, sess.TotalParts)
	for n := 1; n <= sess.TotalParts; n++ {
		p, ok := byPartNo[n]
		if !ok || p.Status != types.PartUploaded {
			return nil, gwerrors.Validation(gwerrors.ErrCodeMissingPart,
				fmt.Sprintf("missing part %d/%d, resume required", n, sess.TotalParts))
		}
		fileUniqueID, _ := p.ProviderMeta["file_unique_id"].(string)
		messageID, _ := p.ProviderMeta["message_id"].(int64)
		manifestParts = append(manifestParts, manifestPart{
			PartNo: n, Size: p.Size, FileID: p.ProviderPartID, FileUniqueID: fileUniqueID,
			MessageID: messageID, ChatID: d.chatID,
		})
	}
	sort.Slice(manifestParts, func(i, j int) bool { return manifestParts[i].PartNo < manifestParts[j].PartNo })

	m := buildManifest(d.chatID, manifestParts)
	ref, err := m.marshal()
	if err != nil {
		return nil, gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "marshal manifest").WithCause(err)
	}

	d.ensureParentDirs(sess.FSPath)
	d.mu.Lock()
	d.nodes[sess.FSPath] = &node{size: sess.FileSize, modTime: time.Now(), contentRef: ref}
	d.mu.Unlock()

	return &types.ObjectInfo{Key: sess.FSPath, Size: sess.FileSize, ContentType: sess.MimeType}, nil
}

// Abort is best-effort: Telegram messages already sent are not retracted,
// only the session's bookkeeping is released.
func (d *Driver) Abort(ctx context.Context, sess *types.Session) error {
	return nil
}

// UploadChunk is the gateway-internal entrypoint behind
// PUT /api/fs/multipart/upload-chunk: it applies the (session, partNo,
// byte_start, byte_end) idempotency protocol and the per-storage_config
// concurrency gate before handing the chunk to the Bot API.
func (d *Driver) UploadChunk(ctx context.Context, sess *types.Session, partNo int, byteStart, byteEnd int64, data io.Reader) (*types.Part, error) {
	size := byteEnd - byteStart + 1

	existing, err := d.partFor(ctx, sess.ID, partNo)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ByteStart == byteStart && existing.ByteEnd == byteEnd {
		switch existing.Status {
		case types.PartUploaded:
			return existing, nil
		case types.PartUploading:
			if done, err := d.pollUploaded(ctx, sess.ID, partNo, byteStart, byteEnd); err != nil {
				return nil, err
			} else if done != nil {
				return done, nil
			}
			// timed out waiting on the in-flight attempt; fall through and
			// re-send ourselves.
		}
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "read chunk body").WithCause(err)
	}

	uploading := &types.Part{
		UploadID: sess.ID, PartNo: partNo, ByteStart: byteStart, ByteEnd: byteEnd, Size: size,
		Status: types.PartUploading, UpdatedAt: time.Now(),
	}
	if err := d.sessions.UpsertPart(ctx, uploading); err != nil {
		return nil, gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "record part uploading state").WithCause(err)
	}

	filename := fmt.Sprintf("%s.part%04d", path.Base(sess.FSPath), partNo)
	sent, sendErr := d.sendWithRateLimitRetry(ctx, filename, buf, size)
	if sendErr != nil {
		errPart := &types.Part{
			UploadID: sess.ID, PartNo: partNo, ByteStart: byteStart, ByteEnd: byteEnd, Size: size,
			Status: types.PartError, ErrorMessage: sendErr.Error(), UpdatedAt: time.Now(),
		}
		if gerr, ok := sendErr.(*gwerrors.GatewayError); ok {
			errPart.ErrorCode = string(gerr.Code)
		}
		if uerr := d.sessions.UpsertPart(ctx, errPart); uerr != nil {
			d.logger.ErrorContext(ctx, "failed to record chunk error state", "upload_id", sess.ID, "part_no", partNo, "error", uerr)
		}
		return nil, sendErr
	}

	done := &types.Part{
		UploadID: sess.ID, PartNo: partNo, ByteStart: byteStart, ByteEnd: byteEnd, Size: size,
		Status: types.PartUploaded, ProviderPartID: sent.FileID,
		ProviderMeta: map[string]any{
			"file_unique_id": sent.FileUniqueID,
			"message_id":     sent.MessageID,
			"chat_id":        d.chatID,
		},
		UpdatedAt: time.Now(),
	}
	if err := d.sessions.UpsertPart(ctx, done); err != nil {
		return nil, gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "record part uploaded state").WithCause(err)
	}
	return done, nil
}

func (d *Driver) partFor(ctx context.Context, uploadID string, partNo int) (*types.Part, error) {
	parts, err := d.sessions.GetParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		if parts[i].PartNo == partNo {
			p := parts[i]
			return &p, nil
		}
	}
	return nil, nil
}

// pollUploaded waits up to cfg.PollTimeout for a concurrently in-flight
// attempt at the same (uploadID, partNo, range) to resolve, returning the
// uploaded Part if it does and nil (not an error) if the wait times out.
func (d *Driver) pollUploaded(ctx context.Context, uploadID string, partNo int, byteStart, byteEnd int64) (*types.Part, error) {
	deadline := time.Now().Add(d.cfg.PollTimeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, gwerrors.Cancelled("chunk upload cancelled while waiting on in-flight attempt")
		case <-ticker.C:
		}

		p, err := d.partFor(ctx, uploadID, partNo)
		if err != nil {
			return nil, err
		}
		if p == nil || p.ByteStart != byteStart || p.ByteEnd != byteEnd {
			return nil, nil
		}
		if p.Status == types.PartUploaded {
			return p, nil
		}
		if p.Status != types.PartUploading {
			return nil, nil
		}
	}
	return nil, nil
}

// sendWithRateLimitRetry honors the Bot API's retry_after_seconds exactly
// for 429 responses and treats every other failure as non-retryable, per
// the driver's call discipline.
func (d *Driver) sendWithRateLimitRetry(ctx context.Context, filename string, buf []byte, size int64) (SentDocument, error) {
	gate := defaultGates.gate(d.storageConfigID, d.cfg.Concurrency)

	for attempt := 1; ; attempt++ {
		acquire(gate)
		sent, err := d.botAPI.SendDocument(ctx, d.chatID, filename, bytes.NewReader(buf), size)
		release(gate)
		if err == nil {
			return sent, nil
		}

		var gerr *gwerrors.GatewayError
		if !stderrors.As(err, &gerr) || gerr.Code != gwerrors.ErrCodeResourceExhausted {
			return SentDocument{}, err
		}
		if attempt >= d.cfg.MaxRateLimitRetries {
			return SentDocument{}, err
		}

		wait := rateLimitDelay(gerr)
		select {
		case <-ctx.Done():
			return SentDocument{}, gwerrors.Cancelled("chunk upload cancelled while rate limited")
		case <-time.After(wait):
		}
	}
}

func rateLimitDelay(gerr *gwerrors.GatewayError) time.Duration {
	if seconds, ok := gerr.Details["retry_after_seconds"].(int); ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Second
}
