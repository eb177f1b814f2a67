package progress

import (
	"sync/atomic"
	"time"
)

// Tracker accumulates byte and file counters for one transfer and
// derives speed and ETA from them. All methods are safe for concurrent
// use.
type Tracker struct {
	start    time.Time
	bytes    atomic.Int64
	files    atomic.Int32
	failures atomic.Int32
}

func NewTracker() *Tracker {
	return &Tracker{start: time.Now()}
}

func (t *Tracker) AddBytes(n int64) { t.bytes.Add(n) }
func (t *Tracker) FileDone()        { t.files.Add(1) }
func (t *Tracker) FileFailed()      { t.failures.Add(1) }

func (t *Tracker) Bytes() int64   { return t.bytes.Load() }
func (t *Tracker) FilesDone() int { return int(t.files.Load()) }
func (t *Tracker) Failures() int  { return int(t.failures.Load()) }

func (t *Tracker) Elapsed() time.Duration { return time.Since(t.start) }

// Speed returns average bytes per second since the tracker started.
func (t *Tracker) Speed() float64 {
	elapsed := time.Since(t.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.bytes.Load()) / elapsed
}

// ETA estimates the remaining duration for total bytes at the current
// average speed. Zero when the speed is unknown or nothing remains.
func (t *Tracker) ETA(total int64) time.Duration {
	speed := t.Speed()
	remaining := total - t.bytes.Load()
	if speed <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second))
}

// Percent returns transferred bytes as a percentage of total, capped
// at 100.
func (t *Tracker) Percent(total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(t.bytes.Load()) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
