package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/rs/zerolog"
)

// UpdateJob is one authorized region edit waiting to be written remotely.
type UpdateJob struct {
	ID         string // audit id
	SessionID  string // renderer that asked for the edit
	UserID     string
	RegionID   string
	Status     string
	Info       string
	EnqueuedAt time.Time
}

// JobHandler applies a single UpdateJob. Returns an error if the job should be retried.
type JobHandler func(ctx context.Context, job UpdateJob) error

// ResultFunc is told how each job ended. err is nil on success.
type ResultFunc func(job UpdateJob, err error)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the pool does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Config holds worker pool configuration.
type Config struct {
	Workers    int
	QueueDepth int
	MaxRetries int
	RetryBase  time.Duration
}

// Pool is a configurable worker pool with bounded retry logic.
type Pool struct {
	cfg      Config
	jobs     chan UpdateJob
	handler  JobHandler
	onResult ResultFunc
	log      zerolog.Logger
	wg       sync.WaitGroup

	// mu guards stopped and the close of jobs against concurrent Enqueue.
	mu      sync.RWMutex
	stopped bool
}

// New creates a Pool with the given config and handler. onResult may be nil.
func New(cfg Config, handler JobHandler, onResult ResultFunc, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("POOL_WORKERS must be between 1 and 64, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 256
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Second
	}
	return &Pool{
		cfg:      cfg,
		jobs:     make(chan UpdateJob, cfg.QueueDepth),
		handler:  handler,
		onResult: onResult,
		log:      log,
	}, nil
}

// Start launches the worker goroutines. ctx controls worker lifetime.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue attempts a non-blocking send. Returns false if the buffer is full
// or the pool has been stopped.
func (p *Pool) Enqueue(job UpdateJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		metrics.JobsDropped.WithLabelValues("stopped").Inc()
		p.log.Warn().Str("region", job.RegionID).Str("job", job.ID).Msg("job dropped: pool stopped")
		return false
	}

	select {
	case p.jobs <- job:
		metrics.JobsEnqueued.Inc()
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		metrics.JobsDropped.WithLabelValues("buffer_full").Inc()
		p.log.Warn().Str("region", job.RegionID).Str("job", job.ID).Msg("job dropped: queue full")
		return false
	}
}

// Stop closes the job channel and waits for all workers to drain. Enqueue
// returns false from then on. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Depth returns the current number of pending jobs.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return // channel closed by Stop()
			}
			metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
			p.report(job, p.processWithRetry(ctx, job, log))
		}
	}
}

// processWithRetry runs the handler inline with exponential backoff rather
// than re-enqueueing, so Stop never races a send on the closed channel.
func (p *Pool) processWithRetry(ctx context.Context, job UpdateJob, log zerolog.Logger) error {
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt - 1)
			log.Warn().Str("region", job.RegionID).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("retrying job")
			select {
			case <-ctx.Done():
				metrics.JobsProcessed.WithLabelValues("error").Inc()
				return fmt.Errorf("abandoned after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		err = p.handler(ctx, job)
		metrics.UpdateDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.JobsProcessed.WithLabelValues("success").Inc()
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			metrics.JobsProcessed.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("region", job.RegionID).Msg("job failed: not retryable")
			return err
		}
		if attempt < p.cfg.MaxRetries {
			metrics.JobsProcessed.WithLabelValues("retried").Inc()
			continue
		}
	}

	metrics.JobsProcessed.WithLabelValues("error").Inc()
	log.Error().Err(err).Str("region", job.RegionID).
		Int("max_retries", p.cfg.MaxRetries).Msg("job failed: max retries exceeded")
	return err
}

func (p *Pool) report(job UpdateJob, err error) {
	if p.onResult != nil {
		p.onResult(job, err)
	}
}

// backoff computes exponential backoff with a max cap.
func (p *Pool) backoff(retries int) time.Duration {
	multiplier := math.Pow(2, float64(retries))
	d := time.Duration(float64(p.cfg.RetryBase) * multiplier)
	if max := time.Minute; d > max {
		d = max
	}
	return d
}
