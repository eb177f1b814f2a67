package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
	"go.uber.org/zap"
)

// FileSummary reports the outcome of one chunked file read.
type FileSummary struct {
	Path      string
	Size      int64
	Chunks    int64
	Succeeded int
	Failed    int
	Bytes     int64 // payload bytes of successful chunks
	Duration  time.Duration
}

// ChunkFile splits the file at path into hash-carrying chunks read
// concurrently on the pool and returned in index order. onChunk, when
// non-nil, fires once per successful chunk as reads complete, not in
// index order. A chunk that fails after its retries fails the whole
// file; the error names the first failed chunk.
func (m *Manager) ChunkFile(ctx context.Context, path string, chunkSize int64, onChunk func(*Chunk)) ([]*Chunk, FileSummary, error) {
	if chunkSize <= 0 {
		chunkSize = m.chunkSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, FileSummary{Path: path}, fmt.Errorf("stat %s: %w", path, err)
	}

	numChunks := ChunkCount(info.Size(), chunkSize)
	summary := FileSummary{Path: path, Size: info.Size(), Chunks: numChunks}

	m.logger.Info("starting chunked read",
		zap.String("file", filepath.Base(path)),
		zap.Int64("size", info.Size()),
		zap.Int64("chunks", numChunks))

	tasks := make([]workerpool.Task, numChunks)
	for i := int64(0); i < numChunks; i++ {
		tasks[i] = workerpool.Task{
			ID: fmt.Sprintf("%s_chunk_%d", filepath.Base(path), i),
			Op: ReadRange{
				Path:     path,
				Index:    i,
				Offset:   i * chunkSize,
				Length:   chunkSize,
				WithHash: true,
			},
		}
	}

	start := time.Now()
	results := m.pool.SubmitBatch(ctx, tasks, func(res workerpool.Result) {
		if res.Success && onChunk != nil {
			onChunk(res.Payload.(*Chunk))
		}
	})

	chunks := make([]*Chunk, 0, len(results))
	var firstErr error
	for _, res := range results {
		if !res.Success {
			summary.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", res.TaskID, res.Err)
			}
			continue
		}
		chunk := res.Payload.(*Chunk)
		summary.Succeeded++
		summary.Bytes += chunk.Size()
		chunks = append(chunks, chunk)
	}
	summary.Duration = time.Since(start)
	m.pool.Metrics().AddBytes(summary.Bytes)

	if firstErr != nil {
		m.logger.Error("chunked read failed",
			zap.String("file", filepath.Base(path)),
			zap.Int("failed", summary.Failed),
			zap.Error(firstErr))
		return nil, summary, firstErr
	}
	return chunks, summary, nil
}
