package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/CanopyNet/canopy-core/internal/transfer"
)

// ManifestName is the file written into the session directory on
// completion. Archives include it alongside the uploaded files.
const ManifestName = "manifest.json"

// Manifest is the durable record of a finished upload, written next to
// the uploaded files.
type Manifest struct {
	SessionID        string              `json:"session_id"`
	UserID           string              `json:"user_id"`
	Status           string              `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	CompletedAt      time.Time           `json:"completed_at"`
	TotalFiles       int                 `json:"total_files"`
	CompletedFiles   int                 `json:"completed_files"`
	TotalBytes       int64               `json:"total_bytes"`
	TransferredBytes int64               `json:"transferred_bytes"`
	Files            []transfer.FileMeta `json:"files"`
	Errors           []FileError         `json:"errors"`
}

// NewManifest builds a manifest from a session snapshot. Slices are
// never nil so the JSON carries [] instead of null.
func NewManifest(info Info) Manifest {
	m := Manifest{
		SessionID:        info.ID,
		UserID:           info.UserID,
		Status:           string(info.Status),
		CreatedAt:        info.CreatedAt,
		CompletedAt:      info.CompletedAt,
		TotalFiles:       info.TotalFiles,
		CompletedFiles:   info.CompletedFiles,
		TotalBytes:       info.TotalBytes,
		TransferredBytes: info.TransferredBytes,
		Files:            info.Files,
		Errors:           info.Errors,
	}
	if m.Files == nil {
		m.Files = []transfer.FileMeta{}
	}
	if m.Errors == nil {
		m.Errors = []FileError{}
	}
	return m
}

// WriteManifest persists the current snapshot as manifest.json inside
// the session directory and returns the manifest path.
func (s *Session) WriteManifest() (string, error) {
	data, err := json.MarshalIndent(NewManifest(s.Snapshot()), "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, ManifestName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
