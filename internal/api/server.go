// Package api exposes the storage gateway's HTTP surface: multipart upload
// session endpoints (C1/C6), search (C2), VFS facade reads (C7), and the
// background job engine (C8/C9). Routing follows the same mux +
// logging-middleware shape the teacher's health/status API server used, now
// fronting the gateway's own components instead of a status tracker.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/objectfs/storage-gateway/internal/gateway"
	"github.com/objectfs/storage-gateway/internal/upload"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Config configures the HTTP server's listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane listener timeouts.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Server is the gateway's HTTP API.
type Server struct {
	httpServer *http.Server
	gw         *gateway.Gateway
	logger     *slog.Logger
}

// chunkUploader is implemented by multipart drivers that proxy raw chunk
// bytes through the gateway rather than handing out a presigned URL
// (telegram.Driver). Presigned-URL drivers (S3) never need it: the client
// uploads directly to the provider.
type chunkUploader interface {
	UploadChunk(ctx context.Context, sess *types.Session, partNo int, byteStart, byteEnd int64, data io.Reader) (*types.Part, error)
}

// NewServer builds a Server over gw's components.
func NewServer(cfg Config, gw *gateway.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{gw: gw, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/multipart/init", s.handleMultipartInit)
	mux.HandleFunc("/api/fs/multipart/sign", s.handleMultipartSign)
	mux.HandleFunc("/api/fs/multipart/parts", s.handleMultipartParts)
	mux.HandleFunc("/api/fs/multipart/complete", s.handleMultipartComplete)
	mux.HandleFunc("/api/fs/multipart/abort", s.handleMultipartAbort)
	mux.HandleFunc("/api/fs/multipart/sessions", s.handleMultipartList)
	mux.HandleFunc("/api/fs/multipart/upload-chunk", s.handleUploadChunk)

	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/fs/stat", s.handleStat)
	mux.HandleFunc("/api/fs/list", s.handleListDirectory)

	mux.HandleFunc("/api/jobs", s.handleJobsCollection)
	mux.HandleFunc("/api/jobs/", s.handleJobsItem)

	mux.HandleFunc("/api/status/uploads", s.handleUploadStatus)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err)
		}
	}()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- multipart (C1/C6) ---

func (s *Server) handleMultipartInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "POST required"))
		return
	}
	var req upload.InitRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.gw.Coordinator.Initialize(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMultipartSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "POST required"))
		return
	}
	var req struct {
		UploadID    string `json:"upload_id"`
		PartNumbers []int  `json:"part_numbers"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.gw.Coordinator.Sign(r.Context(), req.UploadID, req.PartNumbers)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMultipartParts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	uploadID := r.URL.Query().Get("upload_id")
	resp, err := s.gw.Coordinator.ListParts(r.Context(), uploadID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMultipartComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "POST required"))
		return
	}
	var req struct {
		UploadID string          `json:"upload_id"`
		Parts    []types.PartRef `json:"parts"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	info, err := s.gw.Coordinator.Complete(r.Context(), req.UploadID, req.Parts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleMultipartAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "POST required"))
		return
	}
	var req struct {
		UploadID string `json:"upload_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.gw.Coordinator.Abort(r.Context(), req.UploadID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"aborted": true})
}

func (s *Server) handleMultipartList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	filter := types.SessionFilter{
		UserID:  r.URL.Query().Get("user_id"),
		MountID: r.URL.Query().Get("mount_id"),
	}
	sessions, err := s.gw.Coordinator.ListActive(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleUploadChunk is the single_session ingestion endpoint Telegram's
// Sign() hands callers a ticket for; S3 sessions never point here since
// their tickets are presigned URLs straight to the bucket.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "PUT required"))
		return
	}
	uploadID := r.URL.Query().Get("upload_id")
	partNo, err := strconv.Atoi(r.URL.Query().Get("part_number"))
	if err != nil {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "part_number must be an integer"))
		return
	}
	byteStart, _ := strconv.ParseInt(r.URL.Query().Get("byte_start"), 10, 64)
	byteEnd, _ := strconv.ParseInt(r.URL.Query().Get("byte_end"), 10, 64)

	sess, err := s.gw.Sessions.GetSession(r.Context(), uploadID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	d, err := s.gw.Drivers.Get(sess.StorageConfigID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	uploader, ok := d.MultipartDriver().(chunkUploader)
	if !ok {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeWrongStorageType, "storage_config does not support chunk upload"))
		return
	}

	part, err := uploader.UploadChunk(r.Context(), sess, partNo, byteStart, byteEnd, r.Body)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, part)
}

// --- search index (C2) and fs facade (C7) ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	q := types.SearchQuery{
		Query:      r.URL.Query().Get("q"),
		Scope:      types.SearchScope(r.URL.Query().Get("scope")),
		MountID:    r.URL.Query().Get("mount_id"),
		PathPrefix: r.URL.Query().Get("path_prefix"),
		Limit:      limit,
		Cursor:     r.URL.Query().Get("cursor"),
	}
	resp, err := s.gw.SearchIndex.Search(r.Context(), q)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	info, err := s.gw.Facade.Stat(r.Context(), r.URL.Query().Get("mount_id"), r.URL.Query().Get("fs_path"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	entries, err := s.gw.Facade.ListDirectory(r.Context(), r.URL.Query().Get("mount_id"), r.URL.Query().Get("fs_path"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- upload operation status ---

// handleUploadStatus reports in-flight and recently finished multipart
// uploads from the coordinator's operation tracker, independent of the
// session store's own resumable-session bookkeeping (C1/C6).
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET required"))
		return
	}
	if id := r.URL.Query().Get("operation_id"); id != "" {
		op, err := s.gw.Coordinator.Status().GetOperation(id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, op)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("history_limit"))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"active":  s.gw.Coordinator.Status().GetAllOperations(),
		"history": s.gw.Coordinator.Status().GetHistory(limit),
	})
}

// --- background jobs (C8/C9) ---

func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	callerUserID, isAdmin := callerIdentity(r)

	switch r.Method {
	case http.MethodPost:
		var req struct {
			TaskType string         `json:"task_type"`
			Payload  map[string]any `json:"payload"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		job, err := s.gw.Engine.Submit(r.Context(), req.TaskType, req.Payload, callerUserID, "", "api")
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, job)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		jobs, err := s.gw.Engine.List(r.Context(), r.URL.Query().Get("task_type"), callerUserID, isAdmin, limit)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	default:
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, "GET or POST required"))
	}
}

func (s *Server) handleJobsItem(w http.ResponseWriter, r *http.Request) {
	callerUserID, isAdmin := callerIdentity(r)

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeMissingField, "job id required"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.gw.Engine.Get(r.Context(), id, callerUserID, isAdmin)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, job)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.gw.Engine.Delete(r.Context(), id, callerUserID, isAdmin); err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
	case action == "cancel" && r.Method == http.MethodPost:
		if err := s.gw.Engine.Cancel(r.Context(), id, callerUserID, isAdmin); err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	case action == "retry" && r.Method == http.MethodPost:
		job, err := s.gw.Engine.Retry(r.Context(), id, callerUserID, isAdmin)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, job)
	default:
		s.respondError(w, gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "no such job route"))
	}
}

// callerIdentity reads the caller's identity headers. The gateway does not
// implement authentication itself (SPEC_FULL.md's non-goals exclude a user
// directory); an edge proxy is expected to set these after its own auth.
func callerIdentity(r *http.Request) (userID string, isAdmin bool) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role") == "admin"
}

// --- middleware and response helpers ---

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, gwerrors.Validation(gwerrors.ErrCodeInvalidInput, fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var ge *gwerrors.GatewayError
	status := http.StatusInternalServerError
	if gwErr, ok := err.(*gwerrors.GatewayError); ok {
		ge = gwErr
		status = ge.HTTPStatus
	} else {
		ge = gwerrors.New(gwerrors.ErrCodeInternalError, err.Error())
	}
	s.respondJSON(w, status, ge)
}
