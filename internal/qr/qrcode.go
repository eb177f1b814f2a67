package qr

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	qrAPIURL      = "https://api.qrcode-monkey.com/qr/custom"
	defaultSize   = "1024"
	defaultFormat = "png"
)

// Generator builds share links for finished sessions and QR image URLs
// rendering them.
type Generator struct {
	baseURL string
}

// NewGenerator takes the public base URL of this service, e.g.
// "https://files.example.org".
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/")}
}

// ShareLink returns the public archive link for a session.
func (g *Generator) ShareLink(sessionID string) string {
	return fmt.Sprintf("%s/api/v1/archive/%s", g.baseURL, sessionID)
}

// ImageURL returns a QR rendering of the session share link.
func (g *Generator) ImageURL(sessionID string) string {
	params := make(url.Values)
	params.Set("download", "true")
	params.Set("file", defaultFormat)
	params.Set("size", defaultSize)
	params.Set("data", g.ShareLink(sessionID))

	return fmt.Sprintf("%s?%s", qrAPIURL, params.Encode())
}
