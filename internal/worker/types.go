package workerpool

import (
	"context"
	"time"
)

// ExecutionMode selects the workload class a pool is sized for. Both modes
// execute on goroutines; the mode is fixed at construction and echoed by
// the stats surface.
type ExecutionMode string

const (
	// ModeThread is for I/O-bound operations (reads, writes, network).
	ModeThread ExecutionMode = "thread"
	// ModeProcess is for CPU-bound operations (hashing, compression).
	ModeProcess ExecutionMode = "process"
)

const (
	DefaultWorkers       = 16
	DefaultTaskTimeout   = 5 * time.Minute
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = time.Second
	DefaultQueueSize     = 1000
)

// Operation is a typed unit of work executed on a pool worker.
// Implementations should honor ctx cancellation where they block.
type Operation interface {
	Kind() string
	Execute(ctx context.Context) (any, error)
}

// Task pairs a caller-supplied unique id with the operation to run.
type Task struct {
	ID string
	Op Operation
}

// Result is the immutable outcome of one submission. Exactly one of
// Payload and Err is meaningful, determined by Success. Duration spans
// the whole attempt sequence, including backoff sleeps.
type Result struct {
	TaskID    string
	Success   bool
	Payload   any
	Err       error
	Retries   int // attempts consumed, 0-based
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Config controls pool sizing and the retry discipline.
type Config struct {
	Workers       int           // fixed worker count, >= 1
	Mode          ExecutionMode // thread or process
	TaskTimeout   time.Duration // per attempt; 0 disables the timeout
	RetryAttempts int           // total tries per submission
	RetryBackoff  time.Duration // linear backoff base
	QueueSize     int           // pending submission bound
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.Mode != ModeThread && c.Mode != ModeProcess {
		c.Mode = ModeThread
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats is the point-in-time metrics surface of a pool.
type Stats struct {
	TotalTasks            int64   `json:"total_tasks"`
	CompletedTasks        int64   `json:"completed_tasks"`
	FailedTasks           int64   `json:"failed_tasks"`
	ActiveTasks           int64   `json:"active_tasks"`
	SuccessRate           float64 `json:"success_rate"`
	ThroughputBytesPerSec float64 `json:"throughput_bytes_per_sec"`
	TotalBytesProcessed   int64   `json:"total_bytes_processed"`
	ElapsedTime           float64 `json:"elapsed_time"`
	QueueLength           int     `json:"queue_length"`
	MaxWorkers            int     `json:"max_workers"`
	ExecutionMode         string  `json:"execution_mode"`
	IsRunning             bool    `json:"is_running"`
}
