package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Options configures a terminal progress reporter.
type Options struct {
	// TotalBytes is the total upload size.
	TotalBytes int64

	// TotalFiles is the number of files to transfer.
	TotalFiles int

	// Workers is the size of the transfer pool, shown in the header.
	Workers int

	// Target names the destination server, shown in the header.
	Target string

	// Output defaults to os.Stderr so piped command output stays clean.
	Output io.Writer

	// UpdateInterval defaults to 500ms.
	UpdateInterval time.Duration
}

// Reporter renders a live progress line for an upload in flight.
type Reporter struct {
	opts    Options
	tracker *Tracker

	mu        sync.Mutex
	lastBytes int64
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts:    opts,
		tracker: NewTracker(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Tracker exposes the counters the upload loop feeds.
func (r *Reporter) Tracker() *Tracker { return r.tracker }

// Start prints the header and begins the update loop.
func (r *Reporter) Start() {
	fmt.Fprintf(r.opts.Output, "[canopy] Uploading to %s\n", r.opts.Target)
	fmt.Fprintf(r.opts.Output, "[canopy] Total: %s in %d files | Workers: %d\n",
		FormatBytes(r.opts.TotalBytes), r.opts.TotalFiles, r.opts.Workers)
	go r.updateLoop()
}

// Stop ends the update loop and blocks until the final status line has
// been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-r.stopCh:
			r.printFinal()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	transferred := r.tracker.Bytes()

	r.mu.Lock()
	periodBytes := transferred - r.lastBytes
	r.lastBytes = transferred
	r.mu.Unlock()

	speed := float64(periodBytes) / r.opts.UpdateInterval.Seconds()

	eta := "calculating"
	if d := r.tracker.ETA(r.opts.TotalBytes); d > 0 {
		eta = FormatDuration(d)
	}

	fmt.Fprintf(r.opts.Output, "\r[canopy] %5.1f%% | %s / %s | %s/s | files %d/%d | ETA %s    ",
		r.tracker.Percent(r.opts.TotalBytes),
		FormatBytes(transferred),
		FormatBytes(r.opts.TotalBytes),
		FormatBytes(int64(speed)),
		r.tracker.FilesDone(),
		r.opts.TotalFiles,
		eta)
}

func (r *Reporter) printFinal() {
	transferred := r.tracker.Bytes()
	elapsed := r.tracker.Elapsed()

	fmt.Fprintf(r.opts.Output, "\r[canopy] Transferred %s in %s (%s/s) | files %d/%d | failed %d    \n",
		FormatBytes(transferred),
		FormatDuration(elapsed),
		FormatBytes(int64(r.tracker.Speed())),
		r.tracker.FilesDone(),
		r.opts.TotalFiles,
		r.tracker.Failures())
}
