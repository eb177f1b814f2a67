package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by submissions made after Shutdown has begun.
var ErrShuttingDown = errors.New("worker pool is shutting down")

type submission struct {
	task   Task
	result chan Result // buffered, cap 1
	start  time.Time
}

// Pool runs operations on a fixed set of worker goroutines with a
// per-attempt timeout and linear retry backoff. Submissions block the
// caller on a per-submission result channel without occupying a worker.
type Pool struct {
	cfg     Config
	tasks   chan submission
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.RWMutex // guards started/stopping and send-vs-close on tasks
	started  bool
	stopping bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a pool with the given configuration. Zero or invalid config
// fields fall back to defaults. Workers are not spawned until Start.
func New(cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		cfg:     cfg,
		tasks:   make(chan submission, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: newMetrics(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Info("initializing worker pool",
		zap.Int("workers", cfg.Workers),
		zap.String("mode", string(cfg.Mode)))
	return p
}

// Start spawns the workers. Calling Start on a running pool is a no-op
// with a warning.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		p.logger.Warn("worker pool already started")
		return
	}

	for i := 0; i < p.cfg.Workers; i++ {
		w := &worker{id: i + 1, pool: p}
		p.wg.Add(1)
		go w.run()
	}

	p.started = true
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
}

// Submit runs one task and blocks until its result is available. The pool
// is started implicitly on first use. A submission made after Shutdown has
// begun fails immediately with ErrShuttingDown; it consumes no worker slot
// and is not counted against the task counters.
func (p *Pool) Submit(ctx context.Context, task Task) Result {
	p.mu.RLock()
	if p.stopping {
		p.mu.RUnlock()
		return rejected(task.ID)
	}
	if !p.started {
		p.mu.RUnlock()
		p.Start()
		p.mu.RLock()
		if p.stopping {
			p.mu.RUnlock()
			return rejected(task.ID)
		}
	}

	sub := submission{
		task:   task,
		result: make(chan Result, 1),
		start:  time.Now(),
	}
	p.metrics.totalTasks.Add(1)

	select {
	case p.tasks <- sub:
		p.mu.RUnlock()
	case <-p.ctx.Done():
		p.mu.RUnlock()
		return rejected(task.ID)
	case <-ctx.Done():
		p.mu.RUnlock()
		return canceled(task.ID, sub.start, ctx.Err())
	}

	select {
	case res := <-sub.result:
		return res
	case <-p.ctx.Done():
		return rejected(task.ID)
	case <-ctx.Done():
		return canceled(task.ID, sub.start, ctx.Err())
	}
}

// SubmitBatch runs tasks concurrently and returns their results in the
// same order the tasks were given, regardless of completion order.
// onResult, when non-nil, fires once per completed task as results arrive.
func (p *Pool) SubmitBatch(ctx context.Context, tasks []Task, onResult func(Result)) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	p.logger.Info("submitting batch", zap.Int("tasks", len(tasks)))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			res := p.Submit(ctx, task)
			results[i] = res
			if onResult != nil {
				onResult(res)
			}
		}(i, task)
	}
	wg.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	p.logger.Info("batch completed",
		zap.Int("succeeded", succeeded),
		zap.Int("total", len(results)))

	return results
}

// Shutdown transitions the pool to its terminal state. New submissions are
// rejected immediately. With wait true, Shutdown blocks until queued and
// in-flight submissions have finished; with wait false, workers stop
// promptly and blocked submitters receive a shutdown failure. Idempotent.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	if !p.started {
		p.mu.Unlock()
		p.cancel()
		return
	}
	close(p.tasks)
	if !wait {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.logger.Info("worker pool shutdown complete", zap.Bool("waited", wait))
}

// Stats returns a snapshot of the pool metrics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	running := p.started && !p.stopping
	p.mu.RUnlock()

	return Stats{
		TotalTasks:            p.metrics.totalTasks.Load(),
		CompletedTasks:        p.metrics.completedTasks.Load(),
		FailedTasks:           p.metrics.failedTasks.Load(),
		ActiveTasks:           p.metrics.activeTasks.Load(),
		SuccessRate:           p.metrics.SuccessRate(),
		ThroughputBytesPerSec: p.metrics.Throughput(),
		TotalBytesProcessed:   p.metrics.totalBytes.Load(),
		ElapsedTime:           p.metrics.Elapsed().Seconds(),
		QueueLength:           len(p.tasks),
		MaxWorkers:            p.cfg.Workers,
		ExecutionMode:         string(p.cfg.Mode),
		IsRunning:             running,
	}
}

// Metrics exposes the pool counters for caller-side byte accounting.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

func rejected(taskID string) Result {
	now := time.Now()
	return Result{
		TaskID:    taskID,
		Success:   false,
		Err:       ErrShuttingDown,
		StartTime: now,
		EndTime:   now,
	}
}

func canceled(taskID string, start time.Time, err error) Result {
	now := time.Now()
	return Result{
		TaskID:    taskID,
		Success:   false,
		Err:       err,
		StartTime: start,
		EndTime:   now,
		Duration:  now.Sub(start),
	}
}
