package notify

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/CanopyNet/canopy-core/internal/qr"
	"github.com/CanopyNet/canopy-core/internal/session"
)

func testEvent(status session.Status) Event {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return Event{
		Info: session.Info{
			ID:               "s-1",
			UserID:           "tester",
			Country:          "NL",
			Status:           status,
			TotalFiles:       3,
			CompletedFiles:   3,
			TotalBytes:       5 << 20,
			TransferredBytes: 5 << 20,
			CreatedAt:        created,
			CompletedAt:      created.Add(90 * time.Second),
		},
		ShareLink: "https://files.example.org/api/v1/archive/s-1",
	}
}

func TestRenderDefaultTemplate(t *testing.T) {
	tg := NewTelegram("token", "@channel", "", qr.NewGenerator("https://files.example.org"), http.DefaultClient)

	msg, err := tg.render(testEvent(session.StatusCompleted))
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Upload completed",
		"3/3",
		"5.00 MB",
		"1m 30s",
		"\U0001F1F3\U0001F1F1", // NL flag
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "failed") {
		t.Errorf("clean session rendered a failure line:\n%s", msg)
	}
}

func TestRenderFailures(t *testing.T) {
	tg := NewTelegram("token", "@channel", "", qr.NewGenerator("https://files.example.org"), http.DefaultClient)

	evt := testEvent(session.StatusFailed)
	evt.Info.CompletedFiles = 1
	evt.Info.Errors = []session.FileError{
		{File: "a.txt", Error: "checksum mismatch"},
		{File: "b.txt", Error: "task timed out after 5m0s"},
	}

	msg, err := tg.render(evt)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "Upload failed") {
		t.Errorf("missing failed status:\n%s", msg)
	}
	if !strings.Contains(msg, "<b>2</b> failed") {
		t.Errorf("missing failure count:\n%s", msg)
	}
}

func TestRenderCustomTemplate(t *testing.T) {
	tg := NewTelegram("token", "@channel", "{{ .Info.ID }} -> {{ .ShareLink }}", qr.NewGenerator(""), http.DefaultClient)

	msg, err := tg.render(testEvent(session.StatusCompleted))
	if err != nil {
		t.Fatal(err)
	}
	if msg != "s-1 -> https://files.example.org/api/v1/archive/s-1" {
		t.Errorf("message = %q", msg)
	}
}

func TestRenderBrokenTemplate(t *testing.T) {
	tg := NewTelegram("token", "@channel", "{{ unclosed", qr.NewGenerator(""), http.DefaultClient)

	if _, err := tg.render(testEvent(session.StatusCompleted)); err == nil {
		t.Fatal("render succeeded with a broken template")
	}
}
