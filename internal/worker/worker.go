package workerpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type worker struct {
	id   int
	pool *Pool
}

type attemptOutcome struct {
	payload any
	err     error
}

func (w *worker) run() {
	p := w.pool
	defer p.wg.Done()

	for {
		select {
		case sub, ok := <-p.tasks:
			if !ok {
				return
			}
			w.execute(sub)
		case <-p.ctx.Done():
			return
		}
	}
}

// execute runs the full attempt sequence for one submission: up to
// RetryAttempts tries with a per-attempt timeout and linear backoff
// between tries. Timeouts and operation errors retry identically. The
// result carries the last observed error and the wall time of the whole
// sequence.
func (w *worker) execute(sub submission) {
	p := w.pool
	p.metrics.activeTasks.Add(1)
	defer p.metrics.activeTasks.Add(-1)

	attempts := p.cfg.RetryAttempts
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		payload, err := w.runAttempt(sub.task)
		if err == nil {
			end := time.Now()
			p.metrics.completedTasks.Add(1)
			p.logger.Debug("task completed",
				zap.String("task", sub.task.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("duration", end.Sub(sub.start)))
			sub.result <- Result{
				TaskID:    sub.task.ID,
				Success:   true,
				Payload:   payload,
				Retries:   attempt,
				StartTime: sub.start,
				EndTime:   end,
				Duration:  end.Sub(sub.start),
			}
			return
		}

		lastErr = err
		p.logger.Warn("task attempt failed",
			zap.String("task", sub.task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < attempts-1 {
			backoff := time.Duration(attempt+1) * p.cfg.RetryBackoff
			select {
			case <-time.After(backoff):
			case <-p.ctx.Done():
				return
			}
		}
	}

	end := time.Now()
	p.metrics.failedTasks.Add(1)
	p.logger.Error("task failed after retries",
		zap.String("task", sub.task.ID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	sub.result <- Result{
		TaskID:    sub.task.ID,
		Success:   false,
		Err:       lastErr,
		Retries:   attempts - 1,
		StartTime: sub.start,
		EndTime:   end,
		Duration:  end.Sub(sub.start),
	}
}

// runAttempt executes the operation once. When the attempt deadline fires
// the worker slot is released; the operation goroutine is left to drain
// into its buffered channel and its outcome is discarded.
func (w *worker) runAttempt(task Task) (any, error) {
	p := w.pool
	ctx := p.ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	done := make(chan attemptOutcome, 1)
	go func() {
		payload, err := task.Op.Execute(ctx)
		done <- attemptOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task timed out after %s", p.cfg.TaskTimeout)
		}
		return nil, ctx.Err()
	}
}
