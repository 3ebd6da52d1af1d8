// Package pool implements the worker pool that drives job execution: it
// pulls envelopes from a driver.Driver, decodes them via a
// registry.Registry, executes with retry-via-re-enqueue, and reports status
// transitions to a metrics.Emitter.
//
// The concurrency shape is adapted from the teacher's
// lib/jobqueue/worker.Worker: a fixed number of long-lived goroutines each
// loop pulling-then-running, which bounds in-flight executions at
// numWorkers without the teacher's separate jobCount/jobCountLock
// counting-semaphore (one goroutine per slot already enforces the bound).
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/northbeam/jobqueue/lib/jobqueue/backoff"
	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/lib/jobqueue/logger"
	"github.com/northbeam/jobqueue/lib/jobqueue/metrics"
	"github.com/northbeam/jobqueue/lib/jobqueue/registry"
	"github.com/northbeam/jobqueue/lib/jobqueue/traceutil"
)

var log = logging.Logger("jobqueue/pool")

// ErrCancellation marks a job attempt as terminated by context
// cancellation, surfaced to the driver as a distinct terminal status.
var ErrCancellation = errors.New("job cancelled")

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
	statusRetried   = "retried"
)

// ackTimeout bounds the detached driver calls runJob issues once an
// attempt has already committed to an outcome (terminal acks, retry and
// delayed re-pushes), so a run context cancelled by graceful shutdown
// can't strand a delivered envelope. Mirrors the teacher's
// worker.go deleteMessage/moveToDeadLetter detachment.
const ackTimeout = 3 * time.Second

// PermanentError signals that a job should not be retried, regardless of
// remaining attempts. Ported from the teacher's worker.PermanentError.
type PermanentError struct {
	Err error
}

// Permanent wraps err so the pool treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// OnPushJobFn is invoked synchronously after every successful push to the
// driver — both the job's initial push and any retry re-push.
type OnPushJobFn func(ctx context.Context, name string, parameters []byte, jobID driver.JobID)

// OnFailureFn is invoked once a job reaches a terminal failed state
// (unrecognised name, decode failure, cancellation, or retry exhaustion).
type OnFailureFn func(ctx context.Context, name string, parameters []byte, err error)

// Config holds Pool construction parameters.
type Config struct {
	NumWorkers int
	Backoff    backoff.Policy
	Logger     logger.StandardLogger
	Metrics    *metrics.Emitter
	OnPushJob  OnPushJobFn
	OnFailure  OnFailureFn
}

// Option modifies a Config before constructing a Pool.
type Option func(*Config)

func WithNumWorkers(n int) Option {
	return func(c *Config) { c.NumWorkers = n }
}

func WithBackoff(p backoff.Policy) Option {
	return func(c *Config) { c.Backoff = p }
}

func WithLogger(l logger.StandardLogger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMetrics(m *metrics.Emitter) Option {
	return func(c *Config) { c.Metrics = m }
}

func WithOnPushJob(fn OnPushJobFn) Option {
	return func(c *Config) { c.OnPushJob = fn }
}

func WithOnFailure(fn OnFailureFn) Option {
	return func(c *Config) { c.OnFailure = fn }
}

// Pool drives N concurrent workers that pull from a driver, decode via a
// registry, execute with retry, and report terminal status.
type Pool struct {
	driver   driver.Driver
	registry *registry.Registry

	numWorkers int
	backoff    backoff.Policy
	log        logger.StandardLogger
	metrics    *metrics.Emitter
	onPushJob  OnPushJobFn
	onFailure  OnFailureFn
}

// New constructs a Pool over d and r.
func New(d driver.Driver, r *registry.Registry, opts ...Option) (*Pool, error) {
	if d == nil {
		return nil, errors.New("pool: driver is required")
	}
	if r == nil {
		return nil, errors.New("pool: registry is required")
	}

	cfg := &Config{
		NumWorkers: runtime.GOMAXPROCS(0),
		Backoff:    backoff.Default(),
		Logger:     &logger.DiscardLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.NumWorkers < 1 {
		return nil, errors.New("pool: numWorkers must be >= 1")
	}

	m := cfg.Metrics
	if m == nil {
		var err error
		m, err = metrics.New(nil, cfg.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("pool: failed to init metrics: %w", err)
		}
	}

	return &Pool{
		driver:     d,
		registry:   r,
		numWorkers: cfg.NumWorkers,
		backoff:    cfg.Backoff,
		log:        cfg.Logger,
		metrics:    m,
		onPushJob:  cfg.OnPushJob,
		onFailure:  cfg.OnFailure,
	}, nil
}

// Push enqueues a new job of the given name with opaque parameters,
// optionally delayed until delayUntil (the zero Time means "now").
func (p *Pool) Push(ctx context.Context, name string, parameters []byte, delayUntil time.Time) (driver.JobID, error) {
	req := driver.JobRequest{
		Name:       name,
		Parameters: parameters,
		QueuedAt:   time.Now(),
		Attempts:   0,
		DelayUntil: delayUntil,
		Trace:      traceutil.PayloadFromContext(ctx),
	}
	id, err := p.driver.Push(ctx, req)
	if err != nil {
		return "", driver.WrapError(err)
	}
	p.metrics.QueuedDelta(ctx, name, 1)
	if p.onPushJob != nil {
		p.onPushJob(ctx, name, parameters, id)
	}
	return id, nil
}

// Run consumes the driver's iterator with up to numWorkers concurrent
// in-flight executions until the iterator drains, then calls the driver's
// ShutdownGracefully. It blocks until that happens. Call Stop concurrently
// to begin a graceful drain.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.driver.OnInit(ctx); err != nil {
		return fmt.Errorf("pool: onInit: %w", err)
	}

	p.log.Infow("starting worker pool", "jobs", p.registry.Names(), "workers", p.numWorkers)

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go func() {
			defer wg.Done()
			for {
				job, ok, err := p.driver.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					p.log.Errorw("error pulling next job", "error", err)
					continue
				}
				if !ok {
					return
				}
				p.runJob(ctx, job)
			}
		}()
	}
	wg.Wait()

	p.log.Infow("worker pool drained")
	return p.driver.ShutdownGracefully(context.Background())
}

// Stop signals the driver to stop admitting new jobs to the iterator so Run
// can drain and return.
func (p *Pool) Stop(ctx context.Context) error {
	return p.driver.Stop(ctx)
}

// runJob implements the per-envelope algorithm from spec.md §4.4.
func (p *Pool) runJob(ctx context.Context, job driver.QueuedJob) {
	startTime := time.Now()

	req, err := driver.Unmarshal(job.Buffer)
	if err != nil {
		p.log.Errorw("failed to unmarshal job envelope", "id", job.ID, "error", err)
		name := partialEnvelopeName(job.Buffer)
		if name != "" {
			p.metrics.QueuedDelta(ctx, name, -1)
		}
		p.ackFailed(job.ID, err)
		p.metrics.RecordTerminal(ctx, orUnknown(name), statusFailed, time.Since(startTime))
		return
	}

	p.metrics.QueuedDelta(ctx, req.Name, -1)
	p.metrics.ProcessingDelta(ctx, req.Name, 1)
	defer p.metrics.ProcessingDelta(ctx, req.Name, -1)

	inv, err := p.registry.Decode(req.Name, req.Parameters)
	if err != nil {
		p.log.Errorw("failed to decode job", "id", job.ID, "name", req.Name, "error", err)
		p.ackFailed(job.ID, err)
		p.metrics.RecordTerminal(ctx, req.Name, statusFailed, time.Since(startTime))
		p.notifyFailure(ctx, req, err)
		return
	}

	now := time.Now()
	if req.Delayed(now) {
		if newID, ok := p.rePush(job.ID, req); ok {
			p.metrics.QueuedDelta(ctx, req.Name, 1)
			if p.onPushJob != nil {
				p.onPushJob(ctx, req.Name, req.Parameters, newID)
			}
		}
		return
	}

	p.metrics.RecordQueuedFor(ctx, req.Name, now.Sub(req.QueuedAt))

	if sc, ok := traceutil.SpanContextFromPayload(req.Trace); ok {
		ctx = traceutil.ContextWithLink(ctx, sc)
	}

	jctx := &registry.JobContext{Logger: p.log, JobID: job.ID, Attempt: req.Attempts}
	execErr := inv.Invoke(ctx, jctx)
	duration := time.Since(startTime)

	switch {
	case execErr == nil:
		p.ackFinished(job.ID)
		p.metrics.RecordTerminal(ctx, req.Name, statusSucceeded, duration)

	case errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		cancelErr := fmt.Errorf("%w: %w", ErrCancellation, execErr)
		p.ackFailed(job.ID, cancelErr)
		p.metrics.RecordTerminal(ctx, req.Name, statusCancelled, duration)
		p.notifyFailure(ctx, req, cancelErr)

	default:
		var permanent *PermanentError
		if errors.As(execErr, &permanent) || req.Attempts >= inv.MaxRetryCount() {
			p.ackFailed(job.ID, execErr)
			p.metrics.RecordTerminal(ctx, req.Name, statusFailed, duration)
			p.notifyFailure(ctx, req, execErr)
			return
		}

		attempt := req.Attempts + 1
		delay := p.backoff.Delay(attempt)
		retryReq := req
		retryReq.Attempts = attempt
		retryReq.DelayUntil = time.Now().Add(delay)

		p.log.Warnw("job failed, retrying", "id", job.ID, "name", req.Name, "attempt", attempt, "delay", delay, "error", execErr)

		if newID, ok := p.rePush(job.ID, retryReq); ok {
			p.metrics.QueuedDelta(ctx, req.Name, 1)
			if p.onPushJob != nil {
				p.onPushJob(ctx, req.Name, req.Parameters, newID)
			}
		}
		p.metrics.RecordTerminal(ctx, req.Name, statusRetried, duration)
	}
}

// rePush durably re-enqueues req — a delayed replay or a retry with
// incremented attempts — and, only once that push succeeds, acknowledges
// originalID as finished so a lease-based driver doesn't redeliver the
// envelope the pool already replaced. Both calls run on a detached
// context: the run context is cancelled on graceful shutdown, and an
// outcome already committed to here must not be stranded by that.
func (p *Pool) rePush(originalID driver.JobID, req driver.JobRequest) (driver.JobID, bool) {
	dctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	newID, err := p.driver.Push(dctx, req)
	if err != nil {
		p.log.Errorw("failed to re-push job", "id", originalID, "name", req.Name, "error", err)
		return "", false
	}
	if err := p.driver.Finished(dctx, originalID); err != nil {
		p.log.Errorw("failed to ack original envelope after re-push", "id", originalID, "error", err)
	}
	return newID, true
}

func (p *Pool) ackFinished(id driver.JobID) {
	dctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := p.driver.Finished(dctx, id); err != nil {
		p.log.Errorw("failed to mark job finished", "id", id, "error", err)
	}
}

func (p *Pool) ackFailed(id driver.JobID, cause error) {
	dctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := p.driver.Failed(dctx, id, cause); err != nil {
		p.log.Errorw("failed to mark job failed", "id", id, "error", err)
	}
}

// partialEnvelopeName recovers the job name from an envelope that failed
// to fully unmarshal, so the queued-gauge increment made at push time can
// still be balanced. Returns "" if even that can't be parsed out.
func partialEnvelopeName(buf []byte) string {
	var partial struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(buf, &partial); err != nil {
		return ""
	}
	return partial.Name
}

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func (p *Pool) notifyFailure(ctx context.Context, req driver.JobRequest, err error) {
	if p.onFailure != nil {
		p.onFailure(ctx, req.Name, req.Parameters, err)
	}
}
