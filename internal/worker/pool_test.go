package workerpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type testOp struct {
	kind string
	fn   func(ctx context.Context) (any, error)
}

func (o testOp) Kind() string { return o.kind }

func (o testOp) Execute(ctx context.Context) (any, error) { return o.fn(ctx) }

func opReturning(v any) testOp {
	return testOp{kind: "ok", fn: func(ctx context.Context) (any, error) { return v, nil }}
}

func opFailing(err error) testOp {
	return testOp{kind: "fail", fn: func(ctx context.Context) (any, error) { return nil, err }}
}

// opFailingN fails the first n calls, then succeeds.
func opFailingN(n int, v any) testOp {
	var calls atomic.Int32
	return testOp{kind: "flaky", fn: func(ctx context.Context) (any, error) {
		if calls.Add(1) <= int32(n) {
			return nil, errors.New("transient failure")
		}
		return v, nil
	}}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg)
	t.Cleanup(func() { p.Shutdown(false) })
	return p
}

func TestSubmitSuccess(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2, RetryAttempts: 3, RetryBackoff: time.Millisecond})

	res := p.Submit(context.Background(), Task{ID: "t1", Op: opReturning(42)})

	if !res.Success {
		t.Fatalf("expected success, got error: %v", res.Err)
	}
	if res.TaskID != "t1" {
		t.Errorf("task id = %q, want t1", res.TaskID)
	}
	if res.Payload != 42 {
		t.Errorf("payload = %v, want 42", res.Payload)
	}
	if res.Retries != 0 {
		t.Errorf("retries = %d, want 0", res.Retries)
	}

	stats := p.Stats()
	if stats.TotalTasks != 1 || stats.CompletedTasks != 1 || stats.FailedTasks != 0 {
		t.Errorf("stats = %d/%d/%d, want 1/1/0",
			stats.TotalTasks, stats.CompletedTasks, stats.FailedTasks)
	}
}

func TestSubmitRetryExhaustion(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1, RetryAttempts: 3, RetryBackoff: time.Millisecond})

	boom := errors.New("boom")
	res := p.Submit(context.Background(), Task{ID: "t1", Op: opFailing(boom)})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Retries != 2 {
		t.Errorf("retries = %d, want 2", res.Retries)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("err = %v, want boom", res.Err)
	}

	stats := p.Stats()
	if stats.TotalTasks != 1 {
		t.Errorf("total tasks = %d, want 1", stats.TotalTasks)
	}
	if stats.FailedTasks != 1 {
		t.Errorf("failed tasks = %d, want 1", stats.FailedTasks)
	}
	if stats.CompletedTasks != 0 {
		t.Errorf("completed tasks = %d, want 0", stats.CompletedTasks)
	}
}

func TestSubmitEventualSuccess(t *testing.T) {
	for _, k := range []int{1, 2} {
		t.Run(fmt.Sprintf("fails_%d_then_succeeds", k), func(t *testing.T) {
			p := newTestPool(t, Config{Workers: 1, RetryAttempts: 3, RetryBackoff: time.Millisecond})

			res := p.Submit(context.Background(), Task{ID: "t1", Op: opFailingN(k, "done")})

			if !res.Success {
				t.Fatalf("expected success, got: %v", res.Err)
			}
			if res.Retries != k {
				t.Errorf("retries = %d, want %d", res.Retries, k)
			}
		})
	}
}

func TestSubmitDurationSpansRetries(t *testing.T) {
	backoff := 10 * time.Millisecond
	p := newTestPool(t, Config{Workers: 1, RetryAttempts: 3, RetryBackoff: backoff})

	res := p.Submit(context.Background(), Task{ID: "t1", Op: opFailingN(2, "done")})

	if !res.Success {
		t.Fatalf("expected success, got: %v", res.Err)
	}
	// Two backoff sleeps: 1x and 2x the base.
	if want := 3 * backoff; res.Duration < want {
		t.Errorf("duration = %v, want at least %v", res.Duration, want)
	}
}

func TestSubmitTimeout(t *testing.T) {
	p := newTestPool(t, Config{
		Workers:       1,
		TaskTimeout:   20 * time.Millisecond,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})

	slow := testOp{kind: "slow", fn: func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	res := p.Submit(context.Background(), Task{ID: "t1", Op: slow})

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.Retries != 1 {
		t.Errorf("retries = %d, want 1", res.Retries)
	}
	if !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout error", res.Err)
	}
}

func TestSubmitBatchPreservesOrder(t *testing.T) {
	p := newTestPool(t, Config{Workers: 8, RetryAttempts: 1, RetryBackoff: time.Millisecond})

	// Earlier tasks sleep longer so later tasks complete first.
	const n = 10
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		delay := time.Duration(n-i) * 5 * time.Millisecond
		val := i
		tasks[i] = Task{
			ID: fmt.Sprintf("task-%d", i),
			Op: testOp{kind: "sleepy", fn: func(ctx context.Context) (any, error) {
				time.Sleep(delay)
				return val, nil
			}},
		}
	}

	var completions atomic.Int32
	results := p.SubmitBatch(context.Background(), tasks, func(Result) {
		completions.Add(1)
	})

	if len(results) != n {
		t.Fatalf("got %d results, want %d", len(results), n)
	}
	for i, res := range results {
		if res.TaskID != tasks[i].ID {
			t.Errorf("results[%d].TaskID = %q, want %q", i, res.TaskID, tasks[i].ID)
		}
		if !res.Success {
			t.Errorf("results[%d] failed: %v", i, res.Err)
		}
		if res.Payload != i {
			t.Errorf("results[%d].Payload = %v, want %d", i, res.Payload, i)
		}
	}
	if got := completions.Load(); got != n {
		t.Errorf("onResult fired %d times, want %d", got, n)
	}
}

func TestSubmitBatchEmpty(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2})

	results := p.SubmitBatch(context.Background(), nil, nil)
	if results == nil || len(results) != 0 {
		t.Errorf("got %v, want empty non-nil slice", results)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New(Config{Workers: 2, RetryAttempts: 3, RetryBackoff: time.Millisecond})
	p.Start()
	p.Shutdown(true)

	res := p.Submit(context.Background(), Task{ID: "late", Op: opReturning(1)})

	if res.Success {
		t.Fatal("expected rejection")
	}
	if !errors.Is(res.Err, ErrShuttingDown) {
		t.Errorf("err = %v, want ErrShuttingDown", res.Err)
	}
	if res.Retries != 0 {
		t.Errorf("retries = %d, want 0", res.Retries)
	}
	if stats := p.Stats(); stats.TotalTasks != 0 {
		t.Errorf("rejected submission was counted: total = %d", stats.TotalTasks)
	}
}

func TestShutdownWaitDrainsInFlight(t *testing.T) {
	p := New(Config{Workers: 2, RetryAttempts: 1})

	const n = 6
	done := make(chan Result, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("task-%d", i)
		go func() {
			done <- p.Submit(context.Background(), Task{ID: id, Op: testOp{
				kind: "sleepy",
				fn: func(ctx context.Context) (any, error) {
					time.Sleep(10 * time.Millisecond)
					return nil, nil
				},
			}})
		}()
	}

	// Let the submissions reach the queue before shutting down.
	time.Sleep(20 * time.Millisecond)
	p.Shutdown(true)

	for i := 0; i < n; i++ {
		select {
		case res := <-done:
			if !res.Success {
				t.Errorf("task %s failed: %v", res.TaskID, res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for drained results")
		}
	}

	if stats := p.Stats(); stats.CompletedTasks != n {
		t.Errorf("completed = %d, want %d", stats.CompletedTasks, n)
	}
}

func TestStartIdempotent(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2})
	p.Start()
	p.Start()

	res := p.Submit(context.Background(), Task{ID: "t1", Op: opReturning("ok")})
	if !res.Success {
		t.Fatalf("submit after double start failed: %v", res.Err)
	}
}

func TestMetricsAfterBatch(t *testing.T) {
	p := newTestPool(t, Config{Workers: 4, RetryAttempts: 1})

	const n = 20
	const taskBytes = 1000
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = Task{ID: fmt.Sprintf("task-%d", i), Op: opReturning(taskBytes)}
	}

	p.SubmitBatch(context.Background(), tasks, func(res Result) {
		if res.Success {
			p.Metrics().AddBytes(taskBytes)
		}
	})

	stats := p.Stats()
	if stats.TotalTasks != n {
		t.Errorf("total_tasks = %d, want %d", stats.TotalTasks, n)
	}
	if stats.CompletedTasks != n {
		t.Errorf("completed_tasks = %d, want %d", stats.CompletedTasks, n)
	}
	if stats.FailedTasks != 0 {
		t.Errorf("failed_tasks = %d, want 0", stats.FailedTasks)
	}
	if stats.SuccessRate != 100.0 {
		t.Errorf("success_rate = %v, want 100.0", stats.SuccessRate)
	}
	if stats.TotalBytesProcessed != n*taskBytes {
		t.Errorf("total_bytes_processed = %d, want %d", stats.TotalBytesProcessed, n*taskBytes)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", cfg.Workers, DefaultWorkers)
	}
	if cfg.Mode != ModeThread {
		t.Errorf("mode = %q, want %q", cfg.Mode, ModeThread)
	}
	if cfg.RetryAttempts != DefaultRetryAttempts {
		t.Errorf("retry attempts = %d, want %d", cfg.RetryAttempts, DefaultRetryAttempts)
	}
	if cfg.QueueSize != DefaultQueueSize {
		t.Errorf("queue size = %d, want %d", cfg.QueueSize, DefaultQueueSize)
	}
}

func TestStatsExecutionMode(t *testing.T) {
	p := newTestPool(t, Config{Workers: 3, Mode: ModeProcess})

	stats := p.Stats()
	if stats.ExecutionMode != "process" {
		t.Errorf("execution_mode = %q, want process", stats.ExecutionMode)
	}
	if stats.MaxWorkers != 3 {
		t.Errorf("max_workers = %d, want 3", stats.MaxWorkers)
	}
}
