package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
	"go.uber.org/zap"
)

// Stream delivers the chunks of one file strictly in ascending index
// order while keeping up to window chunk reads in flight on the pool.
// Reads ahead of the delivery point are held, never discarded, so the
// consumer sees in-order bytes without a separate reorder buffer. A
// Stream is finite, non-restartable, and meant for a single consumer.
type Stream struct {
	path      string
	size      int64
	chunkSize int64
	window    int
	numChunks int64

	next    int64 // next index to deliver
	pending map[int64]<-chan workerpool.Result

	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc
	err    error
	done   bool
}

// StreamFile opens an ordered parallel stream over path. Zero chunkSize
// and window fall back to the manager defaults.
func (m *Manager) StreamFile(ctx context.Context, path string, chunkSize int64, window int) (*Stream, error) {
	if chunkSize <= 0 {
		chunkSize = m.chunkSize
	}
	if window <= 0 {
		window = m.lookAhead
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		path:      path,
		size:      info.Size(),
		chunkSize: chunkSize,
		window:    window,
		numChunks: ChunkCount(info.Size(), chunkSize),
		pending:   make(map[int64]<-chan workerpool.Result),
		mgr:       m,
		ctx:       sctx,
		cancel:    cancel,
	}

	m.logger.Info("starting parallel stream",
		zap.String("file", filepath.Base(path)),
		zap.Int64("size", s.size),
		zap.Int64("chunks", s.numChunks),
		zap.Int("window", window))
	return s, nil
}

func (s *Stream) Size() int64 { return s.size }

func (s *Stream) NumChunks() int64 { return s.numChunks }

// topUp launches read tasks for the lowest unstarted indices until the
// window is full or every index has been launched. Pending always holds
// the contiguous range starting at the delivery point.
func (s *Stream) topUp() {
	for int64(len(s.pending)) < int64(s.window) &&
		s.next+int64(len(s.pending)) < s.numChunks {
		idx := s.next + int64(len(s.pending))
		task := workerpool.Task{
			ID: fmt.Sprintf("%s_chunk_%d", filepath.Base(s.path), idx),
			Op: ReadRange{
				Path:   s.path,
				Index:  idx,
				Offset: idx * s.chunkSize,
				Length: s.chunkSize,
			},
		}
		s.pending[idx] = s.mgr.submitAsync(s.ctx, task)
	}
}

// Next returns the next chunk in index order, io.EOF after the last one.
// A chunk read that fails after its own retries terminates the stream;
// chunks already delivered are not retracted.
func (s *Stream) Next() (*Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done || s.next >= s.numChunks {
		s.done = true
		return nil, io.EOF
	}

	s.topUp()

	res := <-s.pending[s.next]
	delete(s.pending, s.next)

	if !res.Success {
		s.err = fmt.Errorf("read chunk %d of %s: %w", s.next, filepath.Base(s.path), res.Err)
		s.mgr.logger.Error("stream terminated",
			zap.String("file", filepath.Base(s.path)),
			zap.Int64("chunk", s.next),
			zap.Error(res.Err))
		s.cancel()
		return nil, s.err
	}

	chunk := res.Payload.(*Chunk)
	s.mgr.pool.Metrics().AddBytes(chunk.Size())
	s.next++
	return chunk, nil
}

// WriteTo drains the stream into w, returning the bytes written. On a
// stream error the count written so far still stands, so callers can
// detect truncation against Size.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, werr := w.Write(chunk.Data)
		written += int64(n)
		if werr != nil {
			s.Close()
			return written, werr
		}
	}
}

// Close abandons any in-flight reads. Safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	s.done = true
}
