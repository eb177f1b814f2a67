package transfer

import (
	"context"
	"time"

	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
	"go.uber.org/zap"
)

// Opts configures a transfer Manager.
type Opts struct {
	Workers       int
	Mode          workerpool.ExecutionMode
	TaskTimeout   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	QueueSize     int
	ChunkSize     int64
	LookAhead     int
}

// Manager owns the worker pool the transfer operations run on. It is the
// single entry point for chunked reads, ordered parallel streaming, and
// integrity-checked writes.
type Manager struct {
	pool      *workerpool.Pool
	logger    *zap.Logger
	chunkSize int64
	lookAhead int
}

func NewManager(opts Opts, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.LookAhead <= 0 {
		opts.LookAhead = DefaultLookAhead
	}

	// Every in-flight operation holds an open descriptor; keep headroom
	// for sockets and the log file.
	workers := opts.Workers
	if limit := systemFDLimit() / 4; limit > 0 && workers > limit {
		logger.Warn("capping workers to descriptor limit",
			zap.Int("requested", workers),
			zap.Int("capped", limit))
		workers = limit
	}

	pool := workerpool.New(workerpool.Config{
		Workers:       workers,
		Mode:          opts.Mode,
		TaskTimeout:   opts.TaskTimeout,
		RetryAttempts: opts.RetryAttempts,
		RetryBackoff:  opts.RetryBackoff,
		QueueSize:     opts.QueueSize,
	}, workerpool.WithLogger(logger))

	return &Manager{
		pool:      pool,
		logger:    logger,
		chunkSize: opts.ChunkSize,
		lookAhead: opts.LookAhead,
	}
}

func (m *Manager) Start() { m.pool.Start() }

// Shutdown stops the pool. With wait true, in-flight writes and reads
// finish first.
func (m *Manager) Shutdown(wait bool) { m.pool.Shutdown(wait) }

func (m *Manager) Stats() workerpool.Stats { return m.pool.Stats() }

func (m *Manager) Pool() *workerpool.Pool { return m.pool }

func (m *Manager) ChunkSize() int64 { return m.chunkSize }

func (m *Manager) LookAhead() int { return m.lookAhead }

// submitAsync submits without blocking the caller; the result arrives on
// the returned channel.
func (m *Manager) submitAsync(ctx context.Context, task workerpool.Task) <-chan workerpool.Result {
	ch := make(chan workerpool.Result, 1)
	go func() {
		ch <- m.pool.Submit(ctx, task)
	}()
	return ch
}
