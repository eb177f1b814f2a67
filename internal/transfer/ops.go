package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadRange reads one chunk of a file. A short read at the end of the
// file is normal: the returned payload carries only the bytes present.
type ReadRange struct {
	Path     string
	Index    int64
	Offset   int64
	Length   int64
	WithHash bool
}

func (op ReadRange) Kind() string { return "read-range" }

func (op ReadRange) Execute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(op.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", op.Path, err)
	}
	defer f.Close()

	buf := make([]byte, op.Length)
	n, err := f.ReadAt(buf, op.Offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s at offset %d: %w", op.Path, op.Offset, err)
	}

	chunk := &Chunk{Index: op.Index, Offset: op.Offset, Data: buf[:n]}
	if op.WithHash {
		sum := sha256.Sum256(chunk.Data)
		chunk.Hash = hex.EncodeToString(sum[:])
	}
	return chunk, nil
}

// WriteRange writes one chunk at its offset, creating the file and its
// parent directories as needed. Sibling ranges are left untouched.
type WriteRange struct {
	Path   string
	Offset int64
	Data   []byte
}

func (op WriteRange) Kind() string { return "write-range" }

func (op WriteRange) Execute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(op.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", op.Path, err)
	}

	f, err := os.OpenFile(op.Path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", op.Path, err)
	}
	defer f.Close()

	n, err := f.WriteAt(op.Data, op.Offset)
	if err != nil {
		return nil, fmt.Errorf("write %s at offset %d: %w", op.Path, op.Offset, err)
	}
	return int64(n), nil
}

// HashFile computes the hex SHA-256 digest of a whole file.
type HashFile struct {
	Path string
}

func (op HashFile) Kind() string { return "hash-file" }

func (op HashFile) Execute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(op.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", op.Path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", op.Path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
