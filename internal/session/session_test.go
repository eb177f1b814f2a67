package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CanopyNet/canopy-core/internal/transfer"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*Session) error
		apply   func(*Session) error
		want    Status
		wantErr bool
	}{
		{
			name:  "active to paused",
			apply: (*Session).Pause,
			want:  StatusPaused,
		},
		{
			name:  "active to completed",
			apply: (*Session).Complete,
			want:  StatusCompleted,
		},
		{
			name:  "active to cancelled",
			apply: (*Session).Cancel,
			want:  StatusCancelled,
		},
		{
			name:  "active to failed",
			apply: (*Session).Fail,
			want:  StatusFailed,
		},
		{
			name:    "paused back to active",
			prepare: (*Session).Pause,
			apply:   (*Session).Resume,
			want:    StatusActive,
		},
		{
			name:    "paused cannot complete",
			prepare: (*Session).Pause,
			apply:   (*Session).Complete,
			want:    StatusPaused,
			wantErr: true,
		},
		{
			name:    "completed cannot pause",
			prepare: (*Session).Complete,
			apply:   (*Session).Pause,
			want:    StatusCompleted,
			wantErr: true,
		},
		{
			name:    "cancelled cannot resume",
			prepare: (*Session).Cancel,
			apply:   (*Session).Resume,
			want:    StatusCancelled,
			wantErr: true,
		},
		{
			name:    "active cannot resume",
			apply:   (*Session).Resume,
			want:    StatusActive,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("tester", t.TempDir(), 1, 1)
			if tt.prepare != nil {
				if err := tt.prepare(s); err != nil {
					t.Fatalf("prepare: %v", err)
				}
			}
			err := tt.apply(s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s.Status() != tt.want {
				t.Errorf("status = %s, want %s", s.Status(), tt.want)
			}
		})
	}
}

func TestTerminalSetsCompletedAt(t *testing.T) {
	s := New("tester", t.TempDir(), 0, 0)
	if !s.Snapshot().CompletedAt.IsZero() {
		t.Fatal("completed_at set before terminal state")
	}
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().CompletedAt.IsZero() {
		t.Error("completed_at not set on completion")
	}
}

func TestCountersRefusedOnceTerminal(t *testing.T) {
	s := New("tester", t.TempDir(), 2, 100)
	s.AddBytes(40)
	s.FileDone(transfer.FileMeta{RelPath: "a.txt", Size: 40})

	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	s.AddBytes(60)
	s.FileDone(transfer.FileMeta{RelPath: "b.txt", Size: 60})

	info := s.Snapshot()
	if info.TransferredBytes != 40 {
		t.Errorf("transferred_bytes = %d, want 40", info.TransferredBytes)
	}
	if info.CompletedFiles != 1 {
		t.Errorf("completed_files = %d, want 1", info.CompletedFiles)
	}

	// Errors are still recorded so late failures stay visible.
	s.AddError("b.txt", errors.New("verify failed"))
	if got := len(s.Snapshot().Errors); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New("tester", t.TempDir(), 1, 10)
	s.FileDone(transfer.FileMeta{RelPath: "a.txt"})

	info := s.Snapshot()
	info.Files[0].RelPath = "mutated"

	if got := s.Snapshot().Files[0].RelPath; got != "a.txt" {
		t.Errorf("snapshot mutation leaked into session: %q", got)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	if r.Count() != 0 {
		t.Fatalf("fresh registry count = %d", r.Count())
	}

	s := r.Create("tester", t.TempDir(), 3, 300)
	if s.Status() != StatusActive {
		t.Errorf("new session status = %s", s.Status())
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Error("Get returned a different session")
	}

	if _, err := r.Get("ffffffff-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}

	r.Create("tester", t.TempDir(), 1, 1)
	if r.Count() != 2 {
		t.Errorf("count = %d, want 2", r.Count())
	}

	seen := 0
	r.Range(func(*Session) bool {
		seen++
		return true
	})
	if seen != 2 {
		t.Errorf("Range visited %d sessions, want 2", seen)
	}

	r.Delete(s.ID)
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Error("session still resolvable after Delete")
	}
}

func TestRegistryCancel(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		r := NewRegistry()
		s := r.Create("tester", t.TempDir(), 0, 0)
		if _, err := r.Cancel(s.ID); err != nil {
			t.Fatal(err)
		}
		if s.Status() != StatusCancelled {
			t.Errorf("status = %s", s.Status())
		}
	})

	t.Run("paused goes through resume", func(t *testing.T) {
		r := NewRegistry()
		s := r.Create("tester", t.TempDir(), 0, 0)
		if err := s.Pause(); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Cancel(s.ID); err != nil {
			t.Fatal(err)
		}
		if s.Status() != StatusCancelled {
			t.Errorf("status = %s", s.Status())
		}
	})

	t.Run("completed is illegal", func(t *testing.T) {
		r := NewRegistry()
		s := r.Create("tester", t.TempDir(), 0, 0)
		if err := s.Complete(); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Cancel(s.ID); err == nil {
			t.Fatal("expected error cancelling a completed session")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Cancel("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestWriteManifest(t *testing.T) {
	s := New("tester", t.TempDir(), 2, 30)
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	s.AddBytes(30)
	s.FileDone(transfer.FileMeta{RelPath: "a/b.txt", Size: 10, SHA256: "ab", ModTime: mtime})
	s.FileDone(transfer.FileMeta{RelPath: "c.txt", Size: 20, SHA256: "cd"})
	s.AddError("d.txt", errors.New("checksum mismatch"))
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}

	path, err := s.WriteManifest()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(s.Dir, ManifestName) {
		t.Errorf("manifest path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}

	if m.SessionID != s.ID || m.UserID != "tester" {
		t.Errorf("identity = %s/%s", m.SessionID, m.UserID)
	}
	if m.Status != string(StatusCompleted) {
		t.Errorf("status = %s", m.Status)
	}
	if m.TotalFiles != 2 || m.CompletedFiles != 2 {
		t.Errorf("file counts = %d/%d", m.TotalFiles, m.CompletedFiles)
	}
	if m.TotalBytes != 30 || m.TransferredBytes != 30 {
		t.Errorf("byte counts = %d/%d", m.TotalBytes, m.TransferredBytes)
	}
	if len(m.Files) != 2 || m.Files[0].RelPath != "a/b.txt" {
		t.Errorf("files = %+v", m.Files)
	}
	if !m.Files[0].ModTime.Equal(mtime) {
		t.Errorf("mtime = %v, want %v", m.Files[0].ModTime, mtime)
	}
	if len(m.Errors) != 1 || m.Errors[0].File != "d.txt" {
		t.Errorf("errors = %+v", m.Errors)
	}
	if m.CompletedAt.IsZero() {
		t.Error("completed_at missing from manifest")
	}
}

func TestManifestEmptySlices(t *testing.T) {
	s := New("", t.TempDir(), 0, 0)
	data, err := json.Marshal(NewManifest(s.Snapshot()))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"files", "errors"} {
		if string(raw[key]) != "[]" {
			t.Errorf("%s = %s, want []", key, raw[key])
		}
	}
}
