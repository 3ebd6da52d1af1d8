// Package driver defines the contract the job queue core consumes from a
// queue backend. Concrete backends (in-memory, SQL, Redis, ...) satisfy
// Driver; the core never depends on a specific one.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/northbeam/jobqueue/lib/jobqueue/traceutil"
)

// JobID is a driver-assigned identifier for a pushed job. It must be stable
// and stringifiable.
type JobID string

// ErrDriverError wraps a transport or persistence failure reported by a
// driver. The core logs it and does not retry on the driver's behalf; the
// driver is expected to be the retry locus for its own I/O.
var ErrDriverError = errors.New("driver error")

// WrapError wraps err as a DriverError if it isn't already one.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDriverError, err)
}

// JobRequest is what the core pushes to a driver, and what a driver's
// iterator yields back (round-tripped through QueuedJob.Buffer). Name and
// Parameters are opaque to the driver; QueuedAt/Attempts/DelayUntil are
// read and written by the worker pool to implement retry and delayed
// execution.
type JobRequest struct {
	Name       string    `json:"name"`
	Parameters []byte    `json:"parameters"`
	QueuedAt   time.Time `json:"queuedAt"`
	Attempts   int       `json:"attempts"`
	DelayUntil time.Time `json:"delayUntil,omitempty"`

	// Trace carries a span context captured at push time so a handler's
	// span can be linked (not parented) to the producer's span across the
	// queue boundary.
	Trace *traceutil.SpanContextPayload `json:"trace,omitempty"`
}

// Delayed reports whether this request should not run before the given
// instant.
func (r JobRequest) Delayed(now time.Time) bool {
	return !r.DelayUntil.IsZero() && r.DelayUntil.After(now)
}

// Marshal encodes a JobRequest into the opaque buffer a Driver persists and
// later yields via its iterator as QueuedJob.Buffer. This is the
// recommended envelope encoding from the wire contract: a self-describing
// structure carrying name, parameters, queuedAt, attempts and delayUntil.
func Marshal(r JobRequest) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a buffer previously produced by Marshal.
func Unmarshal(b []byte) (JobRequest, error) {
	var r JobRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return JobRequest{}, err
	}
	return r, nil
}

// QueuedJob is the envelope a driver yields from its iterator: a stable ID
// plus an opaque payload buffer (the marshaled JobRequest, by convention —
// see Marshal/Unmarshal).
type QueuedJob struct {
	ID     JobID
	Buffer []byte
}

// Driver is the capability set the worker pool and scheduler consume from a
// queue backend. All operations may fail with an error wrapping
// ErrDriverError; the core reacts to that as documented on each method.
//
// Concrete drivers must provide at-least-once delivery. Push must accept
// delayed and retried jobs during shutdown drain, since the pool re-pushes
// retries rather than holding a worker.
type Driver interface {
	// OnInit is called exactly once before the first pull.
	OnInit(ctx context.Context) error

	// Push durably enqueues request and returns a stable, stringifiable ID.
	Push(ctx context.Context, request JobRequest) (JobID, error)

	// Next blocks until a job is available or the driver is stopped and
	// draining, in which case it returns (QueuedJob{}, false, nil) once
	// drained. At-least-once delivery: a job may be yielded more than once
	// if the consumer crashes before calling Finished/Failed.
	Next(ctx context.Context) (QueuedJob, bool, error)

	// Finished marks id as successfully completed. Idempotent.
	Finished(ctx context.Context, id JobID) error

	// Failed marks id as terminally failed with the given cause. Idempotent.
	Failed(ctx context.Context, id JobID, cause error) error

	// GetMetadata reads a small durable value keyed by key. Returns
	// (nil, nil) if absent.
	GetMetadata(ctx context.Context, key string) ([]byte, error)

	// SetMetadata durably stores value under key.
	SetMetadata(ctx context.Context, key string, value []byte) error

	// Stop signals the iterator to stop accepting new jobs and begin
	// draining. Invoked from the shutdown handler.
	Stop(ctx context.Context) error

	// ShutdownGracefully is called once the iterator has drained.
	ShutdownGracefully(ctx context.Context) error
}

// Reserved metadata key namespace used by the scheduler (spec §6).
const (
	// MetadataKeyScheduleLastDate is the cursor the scheduler persists
	// after each tick so missed firings can be replayed on restart.
	MetadataKeyScheduleLastDate = "jobScheduleLastDate"
)
