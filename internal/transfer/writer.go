package transfer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
	"go.uber.org/zap"
)

// Writer assembles one incoming file from chunks and verifies the whole
// file digest before accepting it. A Writer owns its destination path;
// no other writer may target the same path concurrently.
type Writer struct {
	mgr     *Manager
	meta    FileMeta
	path    string
	base    string
	written atomic.Int64
	chunks  atomic.Int64
}

// NewWriter prepares an integrity-checked writer for one incoming file.
// The destination is dir joined with the sanitized relative path.
func NewWriter(mgr *Manager, dir string, meta FileMeta) (*Writer, error) {
	rel, err := SanitizeRelPath(meta.RelPath)
	if err != nil {
		return nil, err
	}
	return &Writer{
		mgr:  mgr,
		meta: meta,
		path: filepath.Join(dir, filepath.FromSlash(rel)),
		base: path.Base(rel),
	}, nil
}

// Path returns the destination path on disk.
func (w *Writer) Path() string { return w.path }

// Written returns the bytes written so far.
func (w *Writer) Written() int64 { return w.written.Load() }

// WriteChunk writes data at the offset addressed by the 0-based chunk
// index. Chunks may arrive in any order.
func (w *Writer) WriteChunk(ctx context.Context, index int64, data []byte) (int64, error) {
	if index < 0 {
		return 0, fmt.Errorf("negative chunk index %d for %s", index, w.meta.RelPath)
	}

	res := w.mgr.pool.Submit(ctx, workerpool.Task{
		ID: fmt.Sprintf("%s_write_%d", w.base, index),
		Op: WriteRange{Path: w.path, Offset: index * w.mgr.chunkSize, Data: data},
	})
	if !res.Success {
		return 0, fmt.Errorf("write chunk %d of %s: %w", index, w.meta.RelPath, res.Err)
	}

	n := res.Payload.(int64)
	w.written.Add(n)
	w.chunks.Add(1)
	return n, nil
}

// Finalize recomputes the whole-file digest and compares it to the
// declared one. On mismatch the written file is removed and
// ErrChecksumMismatch returned; resubmitting the same bytes cannot
// succeed, so callers must not retry. On match, declared file mode and
// modification time are applied best-effort. An empty declared digest
// skips verification. Returns the computed digest.
func (w *Writer) Finalize(ctx context.Context) (string, error) {
	res := w.mgr.pool.Submit(ctx, workerpool.Task{
		ID: w.base + "_hash",
		Op: HashFile{Path: w.path},
	})
	if !res.Success {
		return "", fmt.Errorf("hash %s: %w", w.meta.RelPath, res.Err)
	}
	digest := res.Payload.(string)

	if w.meta.SHA256 != "" && !strings.EqualFold(digest, w.meta.SHA256) {
		if err := os.Remove(w.path); err != nil {
			w.mgr.logger.Warn("failed to remove corrupt file",
				zap.String("file", w.meta.RelPath),
				zap.Error(err))
		}
		return digest, fmt.Errorf("%w for %s: declared %s, computed %s",
			ErrChecksumMismatch, w.meta.RelPath, w.meta.SHA256, digest)
	}

	w.applyMeta()
	w.mgr.logger.Info("file assembled",
		zap.String("file", w.meta.RelPath),
		zap.Int64("bytes", w.written.Load()),
		zap.Int64("chunks", w.chunks.Load()))
	return digest, nil
}

// applyMeta applies the declared mode and modification time. Failures
// here are logged, not fatal to the transfer.
func (w *Writer) applyMeta() {
	if w.meta.Mode != 0 {
		if err := os.Chmod(w.path, w.meta.Mode); err != nil {
			w.mgr.logger.Warn("failed to apply file mode",
				zap.String("file", w.meta.RelPath),
				zap.Error(err))
		}
	}
	if !w.meta.ModTime.IsZero() {
		if err := os.Chtimes(w.path, w.meta.ModTime, w.meta.ModTime); err != nil {
			w.mgr.logger.Warn("failed to apply file times",
				zap.String("file", w.meta.RelPath),
				zap.Error(err))
		}
	}
}

// Abort removes whatever was written. Used when the session is
// cancelled or the file failed mid-transfer.
func (w *Writer) Abort() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
