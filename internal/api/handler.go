package api

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CanopyNet/canopy-core/internal/geo"
	"github.com/CanopyNet/canopy-core/internal/progress"
	"github.com/CanopyNet/canopy-core/internal/session"
	"github.com/CanopyNet/canopy-core/internal/store"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	"github.com/CanopyNet/canopy-core/internal/ws"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	tokenKeyPrefix   = "session_token:"
	contentKeyPrefix = "content:"

	CONTENT_MARK_DURATION = 7 * 24 * time.Hour
	DEFAULT_TOKEN_TTL     = 24 * time.Hour
)

// TerminalHandler receives the final snapshot of every session that
// reaches a terminal state.
type TerminalHandler func(session.Info)

type HandlerOpts struct {
	Manager  *transfer.Manager
	Registry *session.Registry
	Redis    *redis.Client
	Store    *store.Store
	Hub      *ws.Hub
	Geo      *geo.Resolver
	Logger   *zap.Logger
	Version  VersionInfo

	StorageDir      string
	MaxFileBytes    int64
	MaxSessionBytes int64
	TokenTTL        time.Duration
	OnTerminal      TerminalHandler
}

type Handler struct {
	mgr      *transfer.Manager
	registry *session.Registry
	redis    *redis.Client
	store    *store.Store
	hub      *ws.Hub
	geo      *geo.Resolver
	logger   *zap.Logger
	version  VersionInfo

	storageDir      string
	maxFileBytes    int64
	maxSessionBytes int64
	tokenTTL        time.Duration
	onTerminal      TerminalHandler

	uploads sync.Map // session id -> *uploadState
	start   time.Time
}

func NewHandler(opts HandlerOpts) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DEFAULT_TOKEN_TTL
	}

	h := &Handler{
		mgr:             opts.Manager,
		registry:        opts.Registry,
		redis:           opts.Redis,
		store:           opts.Store,
		hub:             opts.Hub,
		geo:             opts.Geo,
		logger:          opts.Logger,
		version:         opts.Version,
		storageDir:      opts.StorageDir,
		maxFileBytes:    opts.MaxFileBytes,
		maxSessionBytes: opts.MaxSessionBytes,
		tokenTTL:        opts.TokenTTL,
		onTerminal:      opts.OnTerminal,
		start:           time.Now(),
	}

	if h.hub != nil {
		h.hub.SetControlFunc(h.handleControl)
	}
	return h
}

// handleInit creates an upload session
// @Summary Initialize an upload session
// @Description Declare the file manifest of a directory upload and receive a session id, bearer token and chunk size
// @Tags upload
// @Accept json
// @Produce json
// @Param manifest body InitRequest true "User id and file manifest"
// @Success 201 {object} InitResponse "Session created"
// @Failure 400 {object} MessageResponse "Invalid manifest"
// @Failure 413 {object} MessageResponse "Size limit exceeded"
// @Router /upload/init [post]
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Invalid JSON", zap.Error(err))
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if len(req.Files) == 0 {
		writeError(w, "No files declared", http.StatusBadRequest)
		return
	}

	declared := make(map[string]transfer.FileMeta, len(req.Files))
	var totalBytes int64
	for _, f := range req.Files {
		rel, err := transfer.SanitizeRelPath(f.RelPath)
		if err != nil {
			writeError(w, fmt.Sprintf("Invalid file path %q", f.RelPath), http.StatusBadRequest)
			return
		}
		if _, dup := declared[rel]; dup {
			writeError(w, fmt.Sprintf("Duplicate file path %q", rel), http.StatusBadRequest)
			return
		}
		if f.Size < 0 {
			writeError(w, fmt.Sprintf("Negative size for %q", rel), http.StatusBadRequest)
			return
		}
		if h.maxFileBytes > 0 && f.Size > h.maxFileBytes {
			writeError(w, fmt.Sprintf("File %q exceeds the per-file limit of %s",
				rel, progress.FormatBytes(h.maxFileBytes)), http.StatusRequestEntityTooLarge)
			return
		}
		f.RelPath = rel
		declared[rel] = f
		totalBytes += f.Size
	}
	if h.maxSessionBytes > 0 && totalBytes > h.maxSessionBytes {
		writeError(w, fmt.Sprintf("Upload exceeds the session limit of %s",
			progress.FormatBytes(h.maxSessionBytes)), http.StatusRequestEntityTooLarge)
		return
	}

	sess := h.registry.Create(req.UserID, h.storageDir, len(declared), totalBytes)
	if country, ok := r.Context().Value(countryKey).(string); ok {
		sess.Country = country
	}

	if err := os.MkdirAll(sess.Dir, 0755); err != nil {
		h.logger.Error("Failed to create session directory", zap.Error(err))
		h.registry.Delete(sess.ID)
		writeError(w, "Failed to create session directory", http.StatusInternalServerError)
		return
	}

	token := uuid.New().String()
	if h.redis != nil {
		if err := h.redis.Set(r.Context(), tokenKeyPrefix+token, sess.ID, h.tokenTTL).Err(); err != nil {
			h.logger.Error("Failed to store session token", zap.Error(err))
			os.RemoveAll(sess.Dir)
			h.registry.Delete(sess.ID)
			writeError(w, "Failed to store session token", http.StatusServiceUnavailable)
			return
		}
	}

	h.uploads.Store(sess.ID, newUploadState(declared))

	h.logger.Info("Upload session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", req.UserID),
		zap.Int("files", len(declared)),
		zap.String("total", progress.FormatBytes(totalBytes)))

	writeJSONStatus(w, http.StatusCreated, InitResponse{
		SessionID: sess.ID,
		Token:     token,
		ChunkSize: h.mgr.ChunkSize(),
	})
}

// handleChunk stores one chunk of a declared file
// @Summary Upload a file chunk
// @Description Write one chunk of a declared file; the final chunk triggers whole-file checksum verification
// @Tags upload
// @Accept octet-stream
// @Produce json
// @Param id path string true "Session id"
// @Param X-File-Path header string true "Relative file path inside the upload"
// @Param X-Chunk-Index header int true "Zero-based chunk index"
// @Param X-Last-Chunk header bool false "Set true on the file's final chunk"
// @Success 200 {object} ChunkResponse "Chunk accepted"
// @Failure 400 {object} MessageResponse "Bad path, index or checksum mismatch"
// @Failure 409 {object} MessageResponse "Session not active"
// @Failure 413 {object} MessageResponse "Chunk larger than chunk size"
// @Router /upload/{id}/chunk [post]
func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	switch status := sess.Status(); status {
	case session.StatusActive:
	case session.StatusPaused:
		writeError(w, "Session is paused", http.StatusConflict)
		return
	default:
		writeError(w, fmt.Sprintf("Session is %s", status), http.StatusConflict)
		return
	}

	rel, err := transfer.SanitizeRelPath(r.Header.Get("X-File-Path"))
	if err != nil {
		writeError(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	index, err := strconv.ParseInt(r.Header.Get("X-Chunk-Index"), 10, 64)
	if err != nil || index < 0 {
		writeError(w, "Invalid chunk index", http.StatusBadRequest)
		return
	}

	value, ok := h.uploads.Load(sess.ID)
	if !ok {
		writeError(w, "Session has no open upload", http.StatusConflict)
		return
	}
	state := value.(*uploadState)

	meta, ok := state.meta(rel)
	if !ok {
		writeError(w, fmt.Sprintf("File %q was not declared at init", rel), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.mgr.ChunkSize()))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, "Chunk exceeds the negotiated chunk size", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Failed to read chunk body", http.StatusBadRequest)
		return
	}

	wr, err := state.writer(h.mgr, sess.Dir, meta)
	if err != nil {
		h.logger.Error("Failed to open file writer",
			zap.String("session_id", sess.ID),
			zap.String("file", rel),
			zap.Error(err))
		writeError(w, "Failed to open file writer", http.StatusInternalServerError)
		return
	}

	received, err := wr.WriteChunk(r.Context(), index, data)
	if err != nil {
		h.logger.Error("Failed to write chunk",
			zap.String("session_id", sess.ID),
			zap.String("file", rel),
			zap.Int64("index", index),
			zap.Error(err))
		writeError(w, "Failed to write chunk", http.StatusInternalServerError)
		return
	}

	sess.AddBytes(int64(len(data)))
	state.tracker.AddBytes(int64(len(data)))

	resp := ChunkResponse{File: rel, Index: index, Received: received}

	if lastChunk(r) {
		digest, err := wr.Finalize(r.Context())
		if err != nil {
			sess.AddError(rel, err)
			state.tracker.FileFailed()
			h.broadcastError(sess, rel, err)
			if errors.Is(err, transfer.ErrChecksumMismatch) {
				state.dropWriter(rel)
				writeError(w, fmt.Sprintf("Checksum mismatch for %q", rel), http.StatusBadRequest)
				return
			}
			h.logger.Error("Failed to finalize file",
				zap.String("session_id", sess.ID),
				zap.String("file", rel),
				zap.Error(err))
			writeError(w, "Failed to finalize file", http.StatusInternalServerError)
			return
		}
		state.dropWriter(rel)
		sess.FileDone(meta)
		state.tracker.FileDone()

		resp.Completed = true
		resp.SHA256 = digest
		resp.Duplicate = h.markContent(r.Context(), digest)
		h.broadcastFile(sess, rel, digest)
	}

	h.broadcastProgress(sess, state, rel)
	writeJSON(w, resp)
}

// handleComplete closes a session
// @Summary Complete an upload session
// @Description Write the session manifest, move the session to a terminal state and return the manifest
// @Tags upload
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} session.Manifest "Session manifest"
// @Failure 404 {object} MessageResponse "Unknown session"
// @Failure 409 {object} MessageResponse "Session not active"
// @Router /upload/{id}/complete [post]
func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	if status := sess.Status(); status != session.StatusActive {
		writeError(w, fmt.Sprintf("Session is %s", status), http.StatusConflict)
		return
	}

	if value, ok := h.uploads.LoadAndDelete(sess.ID); ok {
		for _, rel := range value.(*uploadState).abortAll() {
			sess.AddError(rel, errors.New("file incomplete at completion"))
		}
	}

	snap := sess.Snapshot()
	if snap.CompletedFiles == 0 && len(snap.Errors) > 0 {
		err = sess.Fail()
	} else {
		err = sess.Complete()
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if _, err := sess.WriteManifest(); err != nil {
		h.logger.Error("Failed to write session manifest",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		sess.AddError(session.ManifestName, err)
	}

	info := h.finishSession(sess)
	h.broadcastSession(sess)

	h.logger.Info("Upload session finished",
		zap.String("session_id", sess.ID),
		zap.String("status", string(info.Status)),
		zap.Int("completed_files", info.CompletedFiles),
		zap.String("transferred", progress.FormatBytes(info.TransferredBytes)))

	writeJSON(w, session.NewManifest(info))
}

// handlePause suspends chunk intake
// @Summary Pause an upload session
// @Tags upload
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} MessageResponse "Session paused"
// @Failure 409 {object} MessageResponse "Illegal transition"
// @Router /upload/{id}/pause [post]
func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	if err := sess.Pause(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	h.logger.Info("Session paused", zap.String("session_id", sess.ID))
	h.broadcastSession(sess)
	writeJSON(w, MessageResponse{Status: http.StatusOK, Message: "Session paused"})
}

// handleResume reopens chunk intake
// @Summary Resume a paused upload session
// @Tags upload
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} MessageResponse "Session resumed"
// @Failure 409 {object} MessageResponse "Illegal transition"
// @Router /upload/{id}/resume [post]
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	if err := sess.Resume(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	h.logger.Info("Session resumed", zap.String("session_id", sess.ID))
	h.broadcastSession(sess)
	writeJSON(w, MessageResponse{Status: http.StatusOK, Message: "Session resumed"})
}

// handleCancel aborts a session and removes its directory
// @Summary Cancel an upload session
// @Tags upload
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} MessageResponse "Session cancelled"
// @Failure 404 {object} MessageResponse "Unknown session"
// @Failure 409 {object} MessageResponse "Illegal transition"
// @Router /upload/{id}/cancel [post]
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := h.registry.Cancel(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if value, ok := h.uploads.LoadAndDelete(id); ok {
		value.(*uploadState).abortAll()
	}
	if err := os.RemoveAll(sess.Dir); err != nil {
		h.logger.Error("Failed to remove session directory",
			zap.String("session_id", id),
			zap.Error(err))
	}

	h.finishSession(sess)
	h.broadcastSession(sess)
	h.registry.Delete(id)

	h.logger.Info("Session cancelled", zap.String("session_id", id))
	writeJSON(w, MessageResponse{Status: http.StatusOK, Message: "Session cancelled"})
}

// handleStatus reports one session
// @Summary Get session status
// @Description Session snapshot plus live transfer speed, ETA and percentage
// @Tags upload
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} StatusResponse "Session status"
// @Failure 404 {object} MessageResponse "Unknown session"
// @Router /upload/{id}/status [get]
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	resp := StatusResponse{Info: sess.Snapshot()}
	if value, ok := h.uploads.Load(sess.ID); ok {
		tracker := value.(*uploadState).tracker
		resp.TransferSpeed = tracker.Speed()
		resp.ETASeconds = tracker.ETA(resp.TotalBytes).Seconds()
		resp.Percent = tracker.Percent(resp.TotalBytes)
	} else if resp.TotalBytes > 0 {
		resp.Percent = float64(resp.TransferredBytes) / float64(resp.TotalBytes) * 100
	}
	writeJSON(w, resp)
}

// handleSessions lists live sessions
// @Summary List live sessions
// @Tags sessions
// @Produce json
// @Success 200 {array} session.Info "Live sessions, newest first"
// @Router /sessions [get]
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := make([]session.Info, 0)
	h.registry.Range(func(s *session.Session) bool {
		infos = append(infos, s.Snapshot())
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	writeJSON(w, infos)
}

// handleHistory lists finished sessions
// @Summary List session history
// @Tags sessions
// @Produce json
// @Param limit query int false "Maximum rows to return"
// @Success 200 {array} session.Info "Terminal sessions, newest first"
// @Failure 503 {object} MessageResponse "History storage not configured"
// @Router /history [get]
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "History storage is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	infos, err := h.store.ListSessions(limit)
	if err != nil {
		h.logger.Error("Failed to list session history", zap.Error(err))
		writeError(w, "Failed to list session history", http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, infos)
}

// handleDownload streams one uploaded file
// @Summary Download a file from a session
// @Description Ordered parallel read of one uploaded file; a mid-stream failure aborts the connection so truncation is detectable
// @Tags download
// @Produce octet-stream
// @Param id path string true "Session id"
// @Param path path string true "Relative file path"
// @Success 200 {file} binary "File bytes"
// @Failure 404 {object} MessageResponse "Unknown session or file"
// @Router /download/{id}/{path} [get]
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, "Invalid session id", http.StatusBadRequest)
		return
	}
	rel, err := transfer.SanitizeRelPath(vars["path"])
	if err != nil {
		writeError(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	full := filepath.Join(h.storageDir, id, filepath.FromSlash(rel))
	stream, err := h.mgr.StreamFile(r.Context(), full, 0, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, "File not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to open download stream",
			zap.String("session_id", id),
			zap.String("file", rel),
			zap.Error(err))
		writeError(w, "Failed to open file", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(full)))

	if _, err := stream.WriteTo(w); err != nil {
		h.logger.Error("Download stream failed",
			zap.String("session_id", id),
			zap.String("file", rel),
			zap.Error(err))
		// Abort the connection so the client never mistakes a
		// truncated body for a complete file.
		panic(http.ErrAbortHandler)
	}
}

// handleArchive streams a session as a ZIP
// @Summary Download a session archive
// @Description Streamed ZIP of the whole session directory
// @Tags download
// @Produce application/zip
// @Param id path string true "Session id"
// @Success 200 {file} binary "ZIP archive"
// @Failure 404 {object} MessageResponse "Unknown session"
// @Router /archive/{id} [get]
func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	root := filepath.Join(h.storageDir, id)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))

	zw := zip.NewWriter(w)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		stream, err := h.mgr.StreamFile(r.Context(), p, 0, 0)
		if err != nil {
			return err
		}
		_, err = stream.WriteTo(fw)
		stream.Close()
		return err
	})
	if err != nil {
		h.logger.Error("Archive stream failed",
			zap.String("session_id", id),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	if err := zw.Close(); err != nil {
		h.logger.Error("Archive close failed",
			zap.String("session_id", id),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

// handleWS subscribes the caller to a session's progress feed.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	h.hub.Serve(w, r, sess.ID)
}

// handleMetrics exposes engine transfer statistics
// @Summary Engine metrics
// @Tags system
// @Produce json
// @Success 200 {object} workerpool.Stats "Worker pool statistics"
// @Router /metrics [get]
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.mgr.Stats())
}

// handleHealth reports service liveness
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse "Service health"
// @Router /health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	redisStatus := "disabled"
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status = "degraded"
			redisStatus = "unreachable"
		} else {
			redisStatus = "ok"
		}
	}

	writeJSON(w, HealthResponse{
		Status:         status,
		Version:        h.version.Version,
		Uptime:         time.Since(h.start).Round(time.Second).String(),
		Redis:          redisStatus,
		ActiveSessions: h.registry.Count(),
		Build: BuildInfo{
			Version:   h.version.Version,
			Commit:    h.version.Commit,
			Date:      h.version.Date,
			GoVersion: h.version.GoVersion,
			Platform:  h.version.Platform,
		},
		WorkerPool: h.mgr.Stats(),
	})
}

// handleControl applies pause/resume requests arriving over a session's
// websocket.
func (h *Handler) handleControl(sessionID, action string) {
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		return
	}

	switch action {
	case "pause":
		err = sess.Pause()
	case "resume":
		err = sess.Resume()
	default:
		return
	}
	if err != nil {
		h.logger.Debug("Websocket control ignored",
			zap.String("session_id", sessionID),
			zap.String("action", action),
			zap.Error(err))
		return
	}

	h.logger.Info("Websocket control applied",
		zap.String("session_id", sessionID),
		zap.String("action", action))
	h.broadcastSession(sess)
}

// finishSession persists the terminal snapshot and hands it to the
// terminal callback.
func (h *Handler) finishSession(sess *session.Session) session.Info {
	info := sess.Snapshot()
	if h.store != nil {
		if err := h.store.SaveSession(info); err != nil {
			h.logger.Error("Failed to persist session history",
				zap.String("session_id", info.ID),
				zap.Error(err))
		}
	}
	if h.onTerminal != nil {
		go h.onTerminal(info)
	}
	return info
}

// markContent records the file digest for duplicate detection. Returns
// true when the same content was uploaded before.
func (h *Handler) markContent(ctx context.Context, digest string) bool {
	if h.redis == nil {
		return false
	}
	set, err := h.redis.SetNX(ctx, contentKeyPrefix+digest, 1, CONTENT_MARK_DURATION).Result()
	if err != nil {
		h.logger.Warn("Content dedup mark failed", zap.Error(err))
		return false
	}
	return !set
}

func (h *Handler) broadcastSession(sess *session.Session) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(ws.Event{
		Type:      ws.EventSession,
		SessionID: sess.ID,
		Payload:   sess.Snapshot(),
	})
}

// broadcastProgress pushes the per-chunk frame progress subscribers
// render.
func (h *Handler) broadcastProgress(sess *session.Session, state *uploadState, currentFile string) {
	if h.hub == nil {
		return
	}
	snap := sess.Snapshot()
	h.hub.Broadcast(ws.Event{
		Type:      ws.EventChunk,
		SessionID: sess.ID,
		Payload: map[string]any{
			"currentFile":      currentFile,
			"overallProgress":  state.tracker.Percent(snap.TotalBytes),
			"filesCompleted":   snap.CompletedFiles,
			"filesTotal":       snap.TotalFiles,
			"bytesTransferred": snap.TransferredBytes,
			"totalBytes":       snap.TotalBytes,
			"transferSpeed":    state.tracker.Speed(),
			"eta":              state.tracker.ETA(snap.TotalBytes).Seconds(),
		},
	})
}

func (h *Handler) broadcastFile(sess *session.Session, rel, digest string) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(ws.Event{
		Type:      ws.EventFile,
		SessionID: sess.ID,
		Payload:   map[string]any{"file": rel, "sha256": digest},
	})
}

func (h *Handler) broadcastError(sess *session.Session, rel string, err error) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(ws.Event{
		Type:      ws.EventError,
		SessionID: sess.ID,
		Payload:   map[string]any{"file": rel, "error": err.Error()},
	})
}

func lastChunk(r *http.Request) bool {
	v := r.Header.Get("X-Last-Chunk")
	return strings.EqualFold(v, "true") || v == "1"
}

// Helper functions
func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(MessageResponse{
		Status:  code,
		Message: message,
	}); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
