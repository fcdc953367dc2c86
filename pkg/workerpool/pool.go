// Package workerpool provides a bounded worker pool with per-job retries,
// used to deliver batches of outbound messages concurrently.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool.
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("task queue is full")
)

// Job is a unit of work.
type Job[T any] struct {
	ID      string
	Payload T
}

// Result is the outcome of a job.
type Result struct {
	JobID    string
	Attempts int
	Err      error
}

// WorkerFunc processes one job.
type WorkerFunc[T any] func(ctx context.Context, job Job[T]) error

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs
	MaxRetries int
	// RetryDelay grows linearly with each attempt.
	RetryDelay time.Duration
	// ShouldRetry decides whether an error is worth another attempt. All
	// errors are retried when nil.
	ShouldRetry func(error) bool
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns the defaults used for outbound delivery.
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               256,
		MaxRetries:              2,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type task[T any] struct {
	ctx  context.Context
	job  Job[T]
	done chan Result
}

// Pool manages a pool of workers for concurrent job processing.
type Pool[T any] struct {
	config Config
	fn     WorkerFunc[T]
	logger *zap.Logger

	tasks chan *task[T]
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted int64
	completed int64
	failed    int64
	retried   int64
	active    int64
	depth     int64
}

// New creates a worker pool. Start must be called before jobs run.
func New[T any](cfg Config, fn WorkerFunc[T], logger *zap.Logger) (*Pool[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}
	return &Pool[T]{
		config: cfg,
		fn:     fn,
		logger: logger,
		tasks:  make(chan *task[T], cfg.QueueSize),
	}, nil
}

// Start launches all workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a job without blocking. The returned channel receives
// exactly one Result.
func (p *Pool[T]) Submit(ctx context.Context, job Job[T]) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}
	t := &task[T]{ctx: ctx, job: job, done: make(chan Result, 1)}
	select {
	case p.tasks <- t:
		p.queued()
		return t.done, nil
	default:
		return nil, ErrQueueFull
	}
}

// Do runs jobs and waits for all of them. Results are in job order. Jobs
// that could not be queued before ctx ended report ctx's error.
func (p *Pool[T]) Do(ctx context.Context, jobs []Job[T]) []Result {
	results := make([]Result, len(jobs))
	pending := make([]chan Result, len(jobs))

	p.mu.RLock()
	for i, job := range jobs {
		if p.stopped {
			results[i] = Result{JobID: job.ID, Err: ErrStopped}
			continue
		}
		t := &task[T]{ctx: ctx, job: job, done: make(chan Result, 1)}
		select {
		case p.tasks <- t:
			p.queued()
			pending[i] = t.done
		case <-ctx.Done():
			results[i] = Result{JobID: job.ID, Err: ctx.Err()}
		}
	}
	p.mu.RUnlock()

	for i, ch := range pending {
		if ch != nil {
			results[i] = <-ch
		}
	}
	return results
}

func (p *Pool[T]) queued() {
	atomic.AddInt64(&p.submitted, 1)
	atomic.AddInt64(&p.depth, 1)
}

// Stop stops accepting jobs and waits for queued ones to finish.
func (p *Pool[T]) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
	}
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	for t := range p.tasks {
		atomic.AddInt64(&p.depth, -1)
		t.done <- p.run(id, t)
	}
}

// run executes a job, retrying failures with a linearly growing delay.
func (p *Pool[T]) run(workerID int, t *task[T]) Result {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	res := Result{JobID: t.job.ID}
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		res.Attempts++
		res.Err = p.fn(ctx, t.job)
		if res.Err == nil {
			break
		}
		if attempt == p.config.MaxRetries || !p.retryable(res.Err) {
			break
		}

		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying job",
			zap.String("job_id", t.job.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(res.Err))
		select {
		case <-ctx.Done():
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if res.Err == nil {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("job failed",
			zap.String("job_id", t.job.ID),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err))
	}
	return res
}

func (p *Pool[T]) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.config.ShouldRetry == nil || p.config.ShouldRetry(err)
}

// Stats returns current pool statistics
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Retried       int64
	ActiveWorkers int64
	QueueDepth    int64
	QueueCapacity int
	Workers       int
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		Retried:       atomic.LoadInt64(&p.retried),
		ActiveWorkers: atomic.LoadInt64(&p.active),
		QueueDepth:    atomic.LoadInt64(&p.depth),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% full.
func (p *Pool[T]) IsHealthy() bool {
	s := p.Stats()
	return float64(s.QueueDepth)/float64(s.QueueCapacity) < 0.9
}
