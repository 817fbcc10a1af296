package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func nopHandler(_ context.Context, _ UpdateJob) error {
	return nil
}

func edit(region string) UpdateJob {
	return UpdateJob{ID: "job-" + region, RegionID: region, Status: "normal"}
}

func TestPoolBasicEnqueueProcess(t *testing.T) {
	var processed int64
	handler := func(_ context.Context, job UpdateJob) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}

	p, err := New(Config{Workers: 4, QueueDepth: 100, MaxRetries: 3, RetryBase: time.Millisecond}, handler, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for i := 0; i < 50; i++ {
		p.Enqueue(edit("r1"))
	}

	p.Stop()
	cancel()

	if atomic.LoadInt64(&processed) != 50 {
		t.Errorf("expected 50 processed, got %d", processed)
	}
}

func TestPoolNonBlockingDropOnFullBuffer(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := func(ctx context.Context, _ UpdateJob) error {
		started <- struct{}{}
		<-release
		return nil
	}
	p, err := New(Config{Workers: 1, QueueDepth: 2, MaxRetries: 0, RetryBase: time.Millisecond}, handler, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	p.Enqueue(edit("r1"))
	<-started // worker holds r1
	if !p.Enqueue(edit("r2")) || !p.Enqueue(edit("r3")) {
		t.Fatal("queue should accept up to its depth")
	}
	if p.Depth() != 2 {
		t.Fatalf("Depth: got %d", p.Depth())
	}
	if p.Enqueue(edit("r4")) {
		t.Fatal("expected enqueue to fail on a full queue")
	}

	close(release)
	go func() {
		for range started {
		}
	}()
	p.Stop()
	close(started)
}

func TestPoolStopDrains(t *testing.T) {
	var processed int64
	handler := func(_ context.Context, _ UpdateJob) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}
	p, err := New(Config{Workers: 2, QueueDepth: 100, MaxRetries: 0}, handler, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	for i := 0; i < 10; i++ {
		p.Enqueue(edit("r1"))
	}
	p.Stop()

	if atomic.LoadInt64(&processed) != 10 {
		t.Errorf("Stop() should drain all jobs, processed=%d", atomic.LoadInt64(&processed))
	}
}

func TestPoolRetryLogic(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ UpdateJob) error {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}

	var mu sync.Mutex
	var results []error
	onResult := func(_ UpdateJob, err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}

	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 5, RetryBase: time.Millisecond}, handler, onResult, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Start(ctx)
	p.Enqueue(edit("r1"))
	p.Stop()

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(results) != 1 || results[0] != nil {
		t.Errorf("expected one successful result, got %v", results)
	}
}

func TestPoolMaxRetriesExceeded(t *testing.T) {
	var attempts int64
	boom := errors.New("always fail")
	handler := func(_ context.Context, _ UpdateJob) error {
		atomic.AddInt64(&attempts, 1)
		return boom
	}

	var final error
	onResult := func(_ UpdateJob, err error) { final = err }

	// MaxRetries=2 → 3 attempts in total
	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 2, RetryBase: time.Millisecond}, handler, onResult, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(edit("r1"))
	p.Stop()

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 total attempts, got %d", got)
	}
	if !errors.Is(final, boom) {
		t.Errorf("result should carry the last error, got %v", final)
	}
}

func TestPoolPermanentErrorNotRetried(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ UpdateJob) error {
		atomic.AddInt64(&attempts, 1)
		return Permanent(errors.New("no such region"))
	}

	var final error
	p, err := New(Config{Workers: 1, QueueDepth: 10, MaxRetries: 5, RetryBase: time.Millisecond}, handler,
		func(_ UpdateJob, err error) { final = err }, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(edit("ghost"))
	p.Stop()

	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Errorf("permanent error should not be retried, got %d attempts", got)
	}
	var perm *PermanentError
	if !errors.As(final, &perm) {
		t.Errorf("expected PermanentError in result, got %v", final)
	}
}

func TestPoolInvalidWorkerCount(t *testing.T) {
	if _, err := New(Config{Workers: 0}, nopHandler, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for 0 workers")
	}
	if _, err := New(Config{Workers: 65}, nopHandler, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for 65 workers")
	}
}

func TestPool_MaxRetriesZero(t *testing.T) {
	var calls int64
	handler := func(_ context.Context, _ UpdateJob) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("fail once")
	}

	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 0, RetryBase: time.Millisecond}, handler, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(edit("r1"))
	p.Stop()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("MaxRetries=0: expected exactly 1 handler call, got %d", got)
	}
}

// Cancelling the context during a retry backoff ends the job without
// further attempts.
func TestPool_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int64
	handler := func(_ context.Context, _ UpdateJob) error {
		atomic.AddInt64(&calls, 1)
		cancel()
		return errors.New("trigger retry")
	}

	var final error
	done := make(chan struct{})
	onResult := func(_ UpdateJob, err error) {
		final = err
		close(done)
	}

	p, err := New(Config{Workers: 1, QueueDepth: 10, MaxRetries: 5, RetryBase: 200 * time.Millisecond}, handler, onResult, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(ctx)
	p.Enqueue(edit("r1"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job result not reported")
	}
	p.Stop()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("expected 1 handler call, got %d", got)
	}
	if !errors.Is(final, context.Canceled) {
		t.Errorf("expected context.Canceled in result, got %v", final)
	}
}

func TestPoolBackoffCapped(t *testing.T) {
	p, _ := New(Config{Workers: 1, RetryBase: time.Second}, nopHandler, nil, zerolog.Nop())
	if got := p.backoff(0); got != time.Second {
		t.Errorf("backoff(0) = %s", got)
	}
	if got := p.backoff(3); got != 8*time.Second {
		t.Errorf("backoff(3) = %s", got)
	}
	if got := p.backoff(20); got != time.Minute {
		t.Errorf("backoff should cap at 1m, got %s", got)
	}
}

func TestPoolEnqueueAfterStopIsRejected(t *testing.T) {
	p, err := New(Config{Workers: 1, QueueDepth: 4}, func(context.Context, UpdateJob) error { return nil }, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Stop()

	if p.Enqueue(UpdateJob{RegionID: "r1"}) {
		t.Fatal("Enqueue should report false once the pool is stopped")
	}
	p.Stop() // second Stop must not panic on the closed channel
}

func TestPoolEnqueueRacingStop(t *testing.T) {
	p, err := New(Config{Workers: 2, QueueDepth: 64}, func(context.Context, UpdateJob) error { return nil }, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.Enqueue(UpdateJob{RegionID: "r1"})
			}
		}()
	}
	p.Stop()
	wg.Wait()
}
