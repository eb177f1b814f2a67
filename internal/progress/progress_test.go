package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker()
	tr.AddBytes(100)
	tr.AddBytes(50)
	tr.FileDone()
	tr.FileDone()
	tr.FileFailed()

	if tr.Bytes() != 150 {
		t.Errorf("Bytes() = %d, want 150", tr.Bytes())
	}
	if tr.FilesDone() != 2 {
		t.Errorf("FilesDone() = %d, want 2", tr.FilesDone())
	}
	if tr.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", tr.Failures())
	}
}

func TestTrackerSpeed(t *testing.T) {
	tr := &Tracker{start: time.Now().Add(-2 * time.Second)}
	tr.AddBytes(2000)

	speed := tr.Speed()
	if speed < 900 || speed > 1100 {
		t.Errorf("Speed() = %.0f, want about 1000", speed)
	}
}

func TestTrackerETA(t *testing.T) {
	tr := &Tracker{start: time.Now().Add(-1 * time.Second)}
	tr.AddBytes(1000)

	// About 3 more seconds at ~1000 B/s.
	eta := tr.ETA(4000)
	if eta < 2*time.Second || eta > 4*time.Second {
		t.Errorf("ETA = %v, want about 3s", eta)
	}

	if got := tr.ETA(500); got != 0 {
		t.Errorf("ETA past total = %v, want 0", got)
	}
	if got := NewTracker().ETA(1000); got != 0 {
		t.Errorf("ETA with no transfer = %v, want 0", got)
	}
}

func TestTrackerPercent(t *testing.T) {
	tr := NewTracker()
	tr.AddBytes(250)

	if got := tr.Percent(1000); got != 25 {
		t.Errorf("Percent(1000) = %.1f, want 25", got)
	}
	if got := tr.Percent(0); got != 0 {
		t.Errorf("Percent(0) = %.1f, want 0", got)
	}
	if got := tr.Percent(100); got != 100 {
		t.Errorf("Percent over total = %.1f, want capped 100", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 << 30, "3.00 GB"},
		{2 << 40, "2.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"4096", 4096, false},
		{"4KB", 4096, false},
		{"4 KB", 4096, false},
		{"1MB", 1 << 20, false},
		{"1MiB", 1 << 20, false},
		{"1.5GiB", 3 << 29, false},
		{"2gb", 2 << 30, false},
		{"100B", 100, false},
		{"0", 0, false},
		{"", 0, true},
		{"MB", 0, true},
		{"-1MB", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBytes(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBytes(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReporterOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(Options{
		TotalBytes:     1000,
		TotalFiles:     2,
		Workers:        4,
		Target:         "example.test:8080",
		Output:         &buf,
		UpdateInterval: time.Hour, // final line only
	})

	r.Start()
	r.Tracker().AddBytes(1000)
	r.Tracker().FileDone()
	r.Tracker().FileDone()
	r.Stop()

	out := buf.String()
	if !strings.Contains(out, "example.test:8080") {
		t.Errorf("header missing target: %q", out)
	}
	if !strings.Contains(out, "files 2/2") {
		t.Errorf("final line missing file counts: %q", out)
	}
	if !strings.Contains(out, "failed 0") {
		t.Errorf("final line missing failure count: %q", out)
	}

	// Stop is idempotent.
	r.Stop()
}
