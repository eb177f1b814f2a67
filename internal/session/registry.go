package session

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a session id is unknown to the registry.
var ErrNotFound = errors.New("session not found")

// Registry holds the live sessions. Terminal sessions stay until the
// handler deletes them, so late status queries still resolve.
type Registry struct {
	sessions sync.Map // id -> *Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create registers a new active session under the storage root and
// returns it.
func (r *Registry) Create(userID, root string, totalFiles int, totalBytes int64) *Session {
	s := New(userID, root, totalFiles, totalBytes)
	r.sessions.Store(s.ID, s)
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*Session), nil
}

func (r *Registry) Delete(id string) {
	r.sessions.Delete(id)
}

// Range calls fn for every registered session until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

func (r *Registry) Count() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cancel moves a session to cancelled. A paused session is resumed
// first so the cancel goes through a legal transition.
func (r *Registry) Cancel(id string) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Status() == StatusPaused {
		if err := s.Resume(); err != nil {
			return nil, err
		}
	}
	if err := s.Cancel(); err != nil {
		return nil, err
	}
	return s, nil
}
