// Package jobqueue assembles a registry, a driver, a worker pool and an
// optional scheduler into one Facade with the teacher's two-phase
// start/stop lifecycle: Start launches the pool's goroutines without
// blocking, Stop signals the driver to drain and waits for it.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/northbeam/jobqueue/lib/jobqueue/backoff"
	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/lib/jobqueue/logger"
	"github.com/northbeam/jobqueue/lib/jobqueue/metrics"
	"github.com/northbeam/jobqueue/lib/jobqueue/pool"
	"github.com/northbeam/jobqueue/lib/jobqueue/registry"
	"github.com/northbeam/jobqueue/lib/jobqueue/schedcalc"
	"github.com/northbeam/jobqueue/lib/jobqueue/scheduler"
)

var log = logging.Logger("jobqueue")

// Config holds JobQueue construction parameters.
type Config struct {
	Logger     logger.StandardLogger
	NumWorkers int
	Backoff    backoff.Policy
	Metrics    *metrics.Emitter
	OnPushJob  pool.OnPushJobFn
	OnFailure  pool.OnFailureFn
}

// Option modifies a Config before constructing a JobQueue.
type Option func(*Config) error

func WithLogger(l logger.StandardLogger) Option {
	return func(c *Config) error {
		if l == nil {
			return errors.New("job queue logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

func WithNumWorkers(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("job queue num workers must be greater than zero")
		}
		c.NumWorkers = n
		return nil
	}
}

func WithBackoff(p backoff.Policy) Option {
	return func(c *Config) error {
		c.Backoff = p
		return nil
	}
}

func WithMetrics(m *metrics.Emitter) Option {
	return func(c *Config) error {
		c.Metrics = m
		return nil
	}
}

func WithOnPushJob(fn pool.OnPushJobFn) Option {
	return func(c *Config) error {
		c.OnPushJob = fn
		return nil
	}
}

// WithOnFailure sets a callback invoked whenever a job reaches a terminal
// failed state: unrecognised name, decode failure, cancellation, or retry
// exhaustion.
func WithOnFailure(fn pool.OnFailureFn) Option {
	return func(c *Config) error {
		c.OnFailure = fn
		return nil
	}
}

// NewPermanentError wraps err so the pool treats the job as non-retryable
// regardless of remaining attempts.
func NewPermanentError(err error) error {
	return pool.Permanent(err)
}

// JobQueue ties a registry, a driver-backed worker pool, and an optional
// cron-style scheduler into one unit with a name for logging.
type JobQueue struct {
	name      string
	registry  *registry.Registry
	driver    driver.Driver
	pool      *pool.Pool
	scheduler *scheduler.Scheduler

	mu          sync.Mutex
	stopping    bool
	startCtx    context.Context
	startCancel context.CancelFunc
	startWg     sync.WaitGroup
}

// New constructs a JobQueue named name, pulling jobs from d.
func New(name string, d driver.Driver, opts ...Option) (*JobQueue, error) {
	if d == nil {
		return nil, errors.New("job queue driver is required")
	}

	c := &Config{
		Logger:     &logger.DiscardLogger{},
		NumWorkers: 1,
		Backoff:    backoff.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	r := registry.New()

	m := c.Metrics
	if m == nil {
		var err error
		m, err = metrics.New(nil, c.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
	}

	p, err := pool.New(d, r,
		pool.WithNumWorkers(c.NumWorkers),
		pool.WithBackoff(c.Backoff),
		pool.WithLogger(c.Logger),
		pool.WithMetrics(m),
		pool.WithOnPushJob(c.OnPushJob),
		pool.WithOnFailure(c.OnFailure),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	sched, err := scheduler.New(d, p, scheduler.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &JobQueue{
		name:      name,
		registry:  r,
		driver:    d,
		pool:      p,
		scheduler: sched,
	}, nil
}

// Register adds a job definition. It must be called before Start.
func Register[P any](jq *JobQueue, name string, maxRetryCount int, decode func([]byte) (P, error), execute func(context.Context, P, *registry.JobContext) error) error {
	jq.mu.Lock()
	if jq.startCtx != nil {
		jq.mu.Unlock()
		return fmt.Errorf("JobQueue[%s] already started, cannot register job on a running job queue", jq.name)
	}
	jq.mu.Unlock()
	return registry.Register(jq.registry, name, maxRetryCount, decode, execute)
}

// AddSchedule registers a recurring job injected by the scheduler at each
// of schedule's fire instants, once Start is called. It must be called
// before Start.
func (jq *JobQueue) AddSchedule(name string, parameters []byte, schedule schedcalc.Recurrence, accuracy scheduler.Accuracy) error {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	if jq.startCtx != nil {
		return fmt.Errorf("JobQueue[%s] already started, cannot add a schedule entry to a running job queue", jq.name)
	}
	jq.scheduler.AddJob(name, parameters, schedule, accuracy)
	return nil
}

// Push enqueues a single job for immediate (or delayUntil-deferred)
// execution.
func (jq *JobQueue) Push(ctx context.Context, name string, parameters []byte, delayUntil time.Time) (driver.JobID, error) {
	return jq.pool.Push(ctx, name, parameters, delayUntil)
}

// Start launches the worker pool and the scheduler and returns
// immediately; both run until Stop is called or ctx is cancelled.
func (jq *JobQueue) Start(ctx context.Context) error {
	jq.mu.Lock()
	if jq.startCtx != nil {
		jq.mu.Unlock()
		return fmt.Errorf("JobQueue[%s] already started", jq.name)
	}
	jq.startCtx, jq.startCancel = context.WithCancel(ctx)
	jq.startWg.Add(2)
	jq.mu.Unlock()

	log.Infof("JobQueue[%s] starting", jq.name)

	go func() {
		defer jq.startWg.Done()
		if err := jq.pool.Run(jq.startCtx); err != nil {
			log.Errorf("JobQueue[%s] worker pool exited with error: %s", jq.name, err)
		}
		log.Infof("JobQueue[%s] worker pool stopped", jq.name)
	}()

	go func() {
		defer jq.startWg.Done()
		if err := jq.scheduler.Run(jq.startCtx); err != nil {
			log.Errorf("JobQueue[%s] scheduler exited with error: %s", jq.name, err)
		}
		log.Infof("JobQueue[%s] scheduler stopped", jq.name)
	}()

	return nil
}

// Stop signals the driver to drain and waits, up to ctx's deadline, for the
// worker pool and scheduler to finish.
func (jq *JobQueue) Stop(ctx context.Context) error {
	jq.mu.Lock()
	if jq.startCtx == nil {
		jq.mu.Unlock()
		return fmt.Errorf("JobQueue[%s] not started, must start before stopping", jq.name)
	}
	if jq.stopping {
		jq.mu.Unlock()
		log.Warnf("JobQueue[%s] already stopping, ignoring Stop call", jq.name)
		return errors.New("job queue is already stopping")
	}
	jq.stopping = true
	log.Infof("JobQueue[%s] stopping - no new jobs will be admitted", jq.name)

	if err := jq.driver.Stop(ctx); err != nil {
		log.Errorf("JobQueue[%s] failed to signal driver stop: %s", jq.name, err)
	}
	jq.startCancel()
	jq.mu.Unlock()

	log.Infof("JobQueue[%s] waiting for active jobs to complete", jq.name)

	done := make(chan struct{})
	go func() {
		jq.startWg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Errorf("JobQueue[%s] stop timeout - some jobs may not have completed gracefully", jq.name)
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	case <-done:
		log.Infof("JobQueue[%s] stopped successfully", jq.name)
		return nil
	}
}
