// Package telegram implements the Telegram storage driver (C5).
package telegram

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

type node struct {
	isDir      bool
	size       int64
	modTime    time.Time
	contentRef string
}

// Driver implements types.Driver and types.MultipartDriver against a single
// Telegram bot/chat pair. Unlike the S3 driver, there is no backing object
// store to stat: this driver is its own authoritative directory tree.
// UploadFile and UploadChunk are the paths that send bytes to Telegram;
// Complete only records the finished file in that tree.
type Driver struct {
	cfg      *Config
	botAPI   BotAPI
	sessions types.SessionStore
	logger   *slog.Logger
	caps     types.CapabilitySet

	storageConfigID string
	chatID          string

	mu    sync.RWMutex
	nodes map[string]*node
}

// New builds a Driver for one storage_config. sessions is the same Upload
// Session Store (C1) the coordinator uses; the driver reuses its Part
// bookkeeping as the chunk idempotency ledger instead of keeping a second,
// divergent one.
func New(cfg *Config, storageConfigID string, botAPI BotAPI, sessions types.SessionStore, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:             cfg,
		botAPI:          botAPI,
		sessions:        sessions,
		logger:          logger.With("component", "telegram.Driver", "storage_config_id", storageConfigID),
		storageConfigID: storageConfigID,
		chatID:          cfg.ChatID,
		caps:            types.NewCapabilitySet(types.CapReader, types.CapWriter, types.CapMultipart),
		nodes:           make(map[string]*node),
	}
}

// Capabilities reports this driver's feature set.
func (d *Driver) Capabilities() types.CapabilitySet {
	return d.caps
}

func (d *Driver) Exists(ctx context.Context, fsPath string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.nodes[fsPath]
	return ok, nil
}

func (d *Driver) Stat(ctx context.Context, fsPath string) (*types.ObjectInfo, error) {
	d.mu.RLock()
	n, ok := d.nodes[fsPath]
	d.mu.RUnlock()
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodePathNotFound, "not found: "+fsPath)
	}
	return &types.ObjectInfo{
		Key:          fsPath,
		Size:         n.size,
		LastModified: n.modTime,
		IsDir:        n.isDir,
		ContentType:  "application/octet-stream",
		Metadata:     contentRefMetadata(n.contentRef),
	}, nil
}

func contentRefMetadata(ref string) map[string]string {
	if ref == "" {
		return nil
	}
	return map[string]string{"content_ref": ref}
}

func (d *Driver) ListDirectory(ctx context.Context, fsPath string) ([]types.ObjectInfo, error) {
	prefix := fsPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var out []types.ObjectInfo
	for p, n := range d.nodes {
		if p == fsPath || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name := rest
		isDir := n.isDir
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, types.ObjectInfo{Key: name, IsDir: isDir, Size: n.size, LastModified: n.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DownloadFile is not supported directly: a chat-backed object's bytes live
// as a sequence of Telegram messages referenced by its content_ref manifest,
// and reassembling them is the reader path's job, not this driver's.
func (d *Driver) DownloadFile(ctx context.Context, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	return nil, gwerrors.Upstream(gwerrors.ErrCodeSendFailed, "telegram driver does not support direct reads; resolve content_ref instead")
}

func (d *Driver) CreateDirectory(ctx context.Context, fsPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[fsPath] = &node{isDir: true, modTime: time.Now()}
	return nil
}

// UploadFile handles whole-object writes that never went through the
// multipart protocol, sending the payload as a single chunk when it fits in
// one part and rejecting anything larger (the caller must use multipart).
func (d *Driver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	if size > d.cfg.MaxPartSize {
		return gwerrors.Validation(gwerrors.ErrCodeObjectTooLarge, "file exceeds the single-chunk limit; use multipart upload")
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		return gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "read upload body").WithCause(err)
	}

	sent, err := d.sendWithRateLimitRetry(ctx, path.Base(fsPath), buf, size)
	if err != nil {
		return err
	}

	m := buildManifest(d.chatID, []manifestPart{{
		PartNo: 1, Size: size, FileID: sent.FileID, FileUniqueID: sent.FileUniqueID,
		MessageID: sent.MessageID, ChatID: d.chatID,
	}})
	ref, err := m.marshal()
	if err != nil {
		return gwerrors.Infrastructure(gwerrors.ErrCodeInternalError, "marshal manifest").WithCause(err)
	}

	d.ensureParentDirs(fsPath)
	d.mu.Lock()
	d.nodes[fsPath] = &node{size: size, modTime: time.Now(), contentRef: ref}
	d.mu.Unlock()
	return nil
}

func (d *Driver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return d.UploadFile(ctx, fsPath, r, size)
}

func (d *Driver) RenameItem(ctx context.Context, fromPath, toPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[fromPath]
	if !ok {
		return gwerrors.NotFound(gwerrors.ErrCodePathNotFound, "not found: "+fromPath)
	}
	delete(d.nodes, fromPath)
	d.nodes[toPath] = n
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, fromPath, toPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[fromPath]
	if !ok {
		return gwerrors.NotFound(gwerrors.ErrCodePathNotFound, "not found: "+fromPath)
	}
	cp := *n
	d.nodes[toPath] = &cp
	return nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, fsPaths []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range fsPaths {
		delete(d.nodes, p)
	}
	return nil
}

func (d *Driver) MultipartDriver() types.MultipartDriver { return d }

func (d *Driver) ensureParentDirs(fsPath string) {
	dir := path.Dir(fsPath)
	for dir != "/" && dir != "." && dir != "" {
		d.mu.Lock()
		if _, ok := d.nodes[dir]; !ok {
			d.nodes[dir] = &node{isDir: true, modTime: time.Now()}
		}
		d.mu.Unlock()
		dir = path.Dir(dir)
	}
}
