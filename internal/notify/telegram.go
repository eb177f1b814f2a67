package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"

	"github.com/enescakir/emoji"

	"github.com/CanopyNet/canopy-core/internal/progress"
	"github.com/CanopyNet/canopy-core/internal/qr"
	"github.com/CanopyNet/canopy-core/internal/session"
)

// DefaultTemplate is the announcement rendered for terminal sessions.
// Overridable from config; executed against an Event.
const DefaultTemplate = `{{ statusEmoji .Info.Status }} <b>Upload {{ .Info.Status }}</b>{{ if .Info.Country }} {{ countryFlag .Info.Country }}{{ end }}

📁 <b>{{ .Info.CompletedFiles }}/{{ .Info.TotalFiles }}</b> files
📦 <b>{{ formatBytes .Info.TransferredBytes }}</b> in {{ elapsed .Info }}{{ if .Info.Errors }}
⚠️ <b>{{ len .Info.Errors }}</b> failed{{ end }}`

type Telegram struct {
	BotToken    string
	Channel     string
	Client      *http.Client
	Template    string
	qrGenerator *qr.Generator
	mu          sync.RWMutex
	tmpl        *template.Template
}

func NewTelegram(botToken, channel, tmpl string, qrGenerator *qr.Generator, client *http.Client) *Telegram {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	t := &Telegram{
		BotToken:    botToken,
		Channel:     channel,
		Template:    tmpl,
		Client:      client,
		qrGenerator: qrGenerator,
	}
	t.initTemplate()
	return t
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramPhoto struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (t *Telegram) initTemplate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	funcMap := template.FuncMap{
		"statusEmoji": func(status session.Status) string {
			switch status {
			case session.StatusCompleted:
				return emoji.CheckMarkButton.String()
			case session.StatusFailed:
				return emoji.CrossMark.String()
			case session.StatusCancelled:
				return emoji.StopSign.String()
			default:
				return emoji.RepeatButton.String()
			}
		},
		"countryFlag": func(countryCode string) string {
			e, err := emoji.CountryFlag(countryCode)
			if err != nil {
				return emoji.GlobeWithMeridians.String()
			}
			return e.String()
		},
		"formatBytes": progress.FormatBytes,
		"elapsed": func(info session.Info) string {
			return progress.FormatDuration(info.CompletedAt.Sub(info.CreatedAt))
		},
	}
	if tmpl, err := template.New("telegram").Funcs(funcMap).Parse(t.Template); err == nil {
		t.tmpl = tmpl
	}
}

func (t *Telegram) render(evt Event) (string, error) {
	t.mu.RLock()
	tmpl := t.tmpl
	t.mu.RUnlock()

	if tmpl == nil {
		t.initTemplate()
		t.mu.RLock()
		tmpl = t.tmpl
		t.mu.RUnlock()
		if tmpl == nil {
			return "", fmt.Errorf("failed to initialize template")
		}
	}

	var message bytes.Buffer
	if err := tmpl.Execute(&message, evt); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return message.String(), nil
}

// SessionCompleted posts the announcement as a photo message whose
// image is a QR code of the session share link.
func (t *Telegram) SessionCompleted(evt Event) error {
	caption, err := t.render(evt)
	if err != nil {
		return err
	}

	return t.post("sendPhoto", telegramPhoto{
		ChatID:    t.Channel,
		Photo:     t.qrGenerator.ImageURL(evt.Info.ID),
		Caption:   caption,
		ParseMode: "HTML",
	})
}

// SessionFailed posts a plain text announcement.
func (t *Telegram) SessionFailed(evt Event) error {
	text, err := t.render(evt)
	if err != nil {
		return err
	}

	return t.post("sendMessage", telegramMessage{
		ChatID:    t.Channel,
		Text:      text,
		ParseMode: "HTML",
	})
}

func (t *Telegram) post(method string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost,
		"https://api.telegram.org/bot"+t.BotToken+"/"+method,
		bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned non-200 status code: %d", resp.StatusCode)
	}

	return nil
}
