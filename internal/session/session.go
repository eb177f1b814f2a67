package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CanopyNet/canopy-core/internal/transfer"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// legal transitions; terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusCancelled, StatusFailed},
	StatusPaused: {StatusActive},
}

// FileError records a single file failure inside a session.
type FileError struct {
	File  string    `json:"file"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Session tracks one directory upload from init to a terminal state.
// All exported methods are safe for concurrent use.
type Session struct {
	ID      string
	UserID  string
	Dir     string
	Country string

	mu               sync.RWMutex
	status           Status
	totalFiles       int
	completedFiles   int
	totalBytes       int64
	transferredBytes int64
	currentFile      string
	files            []transfer.FileMeta
	errors           []FileError
	createdAt        time.Time
	completedAt      time.Time
}

// Info is a point-in-time copy of a session, safe to serialize.
type Info struct {
	ID               string              `json:"session_id"`
	UserID           string              `json:"user_id,omitempty"`
	Country          string              `json:"country,omitempty"`
	Status           Status              `json:"status"`
	TotalFiles       int                 `json:"total_files"`
	CompletedFiles   int                 `json:"completed_files"`
	TotalBytes       int64               `json:"total_bytes"`
	TransferredBytes int64               `json:"transferred_bytes"`
	CurrentFile      string              `json:"current_file,omitempty"`
	Files            []transfer.FileMeta `json:"files,omitempty"`
	Errors           []FileError         `json:"errors,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	CompletedAt      time.Time           `json:"completed_at,omitzero"`
}

// New creates an active session with a fresh uuid. Its directory is
// <root>/<id>; the caller creates it.
func New(userID, root string, totalFiles int, totalBytes int64) *Session {
	id := uuid.New().String()
	return &Session{
		ID:         id,
		UserID:     userID,
		Dir:        filepath.Join(root, id),
		status:     StatusActive,
		totalFiles: totalFiles,
		totalBytes: totalBytes,
		createdAt:  time.Now().UTC(),
	}
}

func (s *Session) transition(to Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == to {
			s.status = to
			if to.Terminal() {
				s.completedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("illegal transition from %s to %s", s.status, to)
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatusPaused)
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatusActive)
}

func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatusCompleted)
}

func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatusCancelled)
}

func (s *Session) Fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatusFailed)
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// AddError appends a file failure. Errors are recorded even on terminal
// sessions so a failing finalize still leaves a trace.
func (s *Session) AddError(file string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, FileError{
		File:  file,
		Error: err.Error(),
		At:    time.Now().UTC(),
	})
}

// AddBytes advances the transferred-bytes counter. Refused once terminal.
func (s *Session) AddBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.transferredBytes += n
}

// FileDone records a fully verified file. Refused once terminal.
func (s *Session) FileDone(meta transfer.FileMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.completedFiles++
	s.currentFile = meta.RelPath
	s.files = append(s.files, meta)
}

// Snapshot copies the session under the read lock.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:               s.ID,
		UserID:           s.UserID,
		Country:          s.Country,
		Status:           s.status,
		TotalFiles:       s.totalFiles,
		CompletedFiles:   s.completedFiles,
		TotalBytes:       s.totalBytes,
		TransferredBytes: s.transferredBytes,
		CurrentFile:      s.currentFile,
		CreatedAt:        s.createdAt,
		CompletedAt:      s.completedAt,
	}
	info.Files = append(info.Files, s.files...)
	info.Errors = append(info.Errors, s.errors...)
	return info
}
