package workerpool

import (
	"sync/atomic"
	"time"
)

// Metrics holds the monotonic counters of one pool. Counters are created
// with the pool, mutated only on task completion/failure (by the pool) and
// via AddBytes (by callers that account payload bytes), never reset.
type Metrics struct {
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	activeTasks    atomic.Int64
	totalBytes     atomic.Int64
	startTime      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// AddBytes records payload bytes processed by completed tasks. Byte
// accounting is the caller's responsibility: the pool cannot know how many
// payload bytes an opaque operation moved.
func (m *Metrics) AddBytes(n int64) {
	m.totalBytes.Add(n)
}

// TotalBytes returns the bytes recorded so far.
func (m *Metrics) TotalBytes() int64 {
	return m.totalBytes.Load()
}

// SuccessRate returns completed/total as a percentage, 0 when no tasks
// have been submitted.
func (m *Metrics) SuccessRate() float64 {
	total := m.totalTasks.Load()
	if total == 0 {
		return 0
	}
	return float64(m.completedTasks.Load()) / float64(total) * 100
}

// Elapsed returns the time since the pool was constructed.
func (m *Metrics) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Throughput returns bytes per second over the pool's lifetime, 0 when no
// time has elapsed.
func (m *Metrics) Throughput() float64 {
	elapsed := m.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.totalBytes.Load()) / elapsed
}
