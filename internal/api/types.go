package api

import (
	"sync"

	"github.com/CanopyNet/canopy-core/internal/progress"
	"github.com/CanopyNet/canopy-core/internal/session"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
)

// VersionInfo is injected by the build.
type VersionInfo struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Platform  string
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

type MessageResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// InitRequest declares every file of the upload up front. Sizes and
// digests come from the client's local scan.
type InitRequest struct {
	UserID string              `json:"user_id"`
	Files  []transfer.FileMeta `json:"files"`
}

type InitResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ChunkSize int64  `json:"chunk_size"`
}

// ChunkResponse acknowledges one received chunk. Completed is set when
// the chunk was the file's last and the whole file verified.
type ChunkResponse struct {
	File      string `json:"file"`
	Index     int64  `json:"index"`
	Received  int64  `json:"received_bytes"`
	Completed bool   `json:"completed,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// StatusResponse is a session snapshot with live transfer figures.
type StatusResponse struct {
	session.Info
	TransferSpeed float64 `json:"transfer_speed"`
	ETASeconds    float64 `json:"eta_seconds"`
	Percent       float64 `json:"percent"`
}

type HealthResponse struct {
	Status         string           `json:"status"`
	Version        string           `json:"version"`
	Uptime         string           `json:"uptime"`
	Redis          string           `json:"redis"`
	ActiveSessions int              `json:"active_sessions"`
	Build          BuildInfo        `json:"build"`
	WorkerPool     workerpool.Stats `json:"worker_pool"`
}

// uploadState is the server-side assembly state of one session: the
// declared manifest, open writers, and the live transfer tracker.
type uploadState struct {
	mu       sync.Mutex
	declared map[string]transfer.FileMeta
	writers  map[string]*transfer.Writer
	tracker  *progress.Tracker
}

func newUploadState(declared map[string]transfer.FileMeta) *uploadState {
	return &uploadState{
		declared: declared,
		writers:  make(map[string]*transfer.Writer),
		tracker:  progress.NewTracker(),
	}
}

func (u *uploadState) meta(rel string) (transfer.FileMeta, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	meta, ok := u.declared[rel]
	return meta, ok
}

// writer returns the open writer for the file, creating it on the
// first chunk.
func (u *uploadState) writer(mgr *transfer.Manager, dir string, meta transfer.FileMeta) (*transfer.Writer, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if w, ok := u.writers[meta.RelPath]; ok {
		return w, nil
	}
	w, err := transfer.NewWriter(mgr, dir, meta)
	if err != nil {
		return nil, err
	}
	u.writers[meta.RelPath] = w
	return w, nil
}

func (u *uploadState) dropWriter(rel string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.writers, rel)
}

// abortAll discards every writer that never finalized and returns
// their paths.
func (u *uploadState) abortAll() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	var incomplete []string
	for rel, w := range u.writers {
		w.Abort()
		incomplete = append(incomplete, rel)
	}
	u.writers = make(map[string]*transfer.Writer)
	return incomplete
}
