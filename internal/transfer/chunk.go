package transfer

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

const (
	DefaultChunkSize int64 = 1 << 20 // 1 MiB
	DefaultLookAhead       = 4
)

var (
	// ErrChecksumMismatch means the assembled file digest disagreed with
	// the declared one. Never retried: resubmission cannot succeed.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsafePath means a client-supplied path would escape the
	// session directory.
	ErrUnsafePath = errors.New("unsafe path")
)

// Chunk is one contiguous byte range of a file, addressed by a 0-based
// index. The final chunk of a file may be shorter than the chunk size.
type Chunk struct {
	Index  int64
	Offset int64
	Data   []byte
	Hash   string // hex SHA-256 of Data, set on the upload read path
}

func (c *Chunk) Size() int64 { return int64(len(c.Data)) }

// ChunkCount returns how many chunks of chunkSize cover size bytes.
func ChunkCount(size, chunkSize int64) int64 {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// FileMeta describes one incoming file on the upload path.
type FileMeta struct {
	RelPath string      `json:"path"`           // slash-separated path below the session directory
	Size    int64       `json:"size"`           // declared size in bytes
	SHA256  string      `json:"sha256"`         // declared whole-file digest, hex; empty skips verification
	Mode    os.FileMode `json:"mode,omitempty"` // zero leaves the default mode
	ModTime time.Time   `json:"mtime,omitzero"` // zero leaves the write time
}

// SanitizeRelPath normalizes a client-supplied relative path and rejects
// anything that would escape the session directory.
func SanitizeRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, p)
	}
	if len(p) >= 2 && p[1] == ':' {
		return "", fmt.Errorf("%w: volume path %q", ErrUnsafePath, p)
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the session directory", ErrUnsafePath, p)
	}
	return clean, nil
}
