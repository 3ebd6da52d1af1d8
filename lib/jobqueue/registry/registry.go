// Package registry maps job names to typed decoders and handlers. It is the
// worker pool's sole polymorphism seam: handlers are registered once with a
// concrete parameter type, and the pool dispatches by name through an
// erased Invocable, never via reflection over payload types.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/lib/jobqueue/logger"
)

// ErrDuplicateRegistration is returned by Register when a job name is
// already present in the registry.
var ErrDuplicateRegistration = errors.New("job already registered")

// ErrUnrecognisedJobID is returned by Decode when a job name has no
// registration. This is a terminal condition for the caller: the driver
// entry should be marked failed, not retried.
var ErrUnrecognisedJobID = errors.New("unrecognised job id")

// ErrDecodeJobFailed is returned by Decode when the parameter decoder
// fails. Also terminal.
var ErrDecodeJobFailed = errors.New("decode job failed")

// JobContext is the per-invocation capability bag passed to a handler.
type JobContext struct {
	Logger  logger.StandardLogger
	JobID   driver.JobID
	Attempt int
}

// Invocable is a type-erased, ready-to-run job: a concrete parameter value
// and handler closed over by a Register call, addressable only by name and
// a nullary Invoke.
type Invocable interface {
	Name() string
	MaxRetryCount() int
	Invoke(ctx context.Context, jctx *JobContext) error
}

type invocable[P any] struct {
	name          string
	maxRetryCount int
	param         P
	execute       func(context.Context, P, *JobContext) error
}

func (i *invocable[P]) Name() string        { return i.name }
func (i *invocable[P]) MaxRetryCount() int   { return i.maxRetryCount }
func (i *invocable[P]) Invoke(ctx context.Context, jctx *JobContext) error {
	return i.execute(ctx, i.param, jctx)
}

type registration struct {
	name          string
	maxRetryCount int
	decode        func([]byte) (Invocable, error)
}

// Registry maps job names to decoders and handlers. Populate it via
// Register before the worker pool's Run is called; by convention it is
// write-once, read-many thereafter (documented, not lock-enforced, mirroring
// the teacher's Register-before-Start convention).
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*registration
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*registration)}
}

// Register adds a job definition for name. decode turns the opaque
// parameter bytes into a P; execute runs the handler. maxRetryCount is the
// upper bound on additional attempts beyond the first (spec invariant I4).
func Register[P any](r *Registry, name string, maxRetryCount int, decode func([]byte) (P, error), execute func(context.Context, P, *JobContext) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, name)
	}
	if maxRetryCount < 0 {
		return fmt.Errorf("job %q: maxRetryCount must be >= 0", name)
	}

	r.defs[name] = &registration{
		name:          name,
		maxRetryCount: maxRetryCount,
		decode: func(b []byte) (Invocable, error) {
			p, err := decode(b)
			if err != nil {
				return nil, fmt.Errorf("%w: job %q: %w", ErrDecodeJobFailed, name, err)
			}
			return &invocable[P]{
				name:          name,
				maxRetryCount: maxRetryCount,
				param:         p,
				execute:       execute,
			}, nil
		},
	}
	return nil
}

// Decode looks up name and decodes parameters into an Invocable. It fails
// with ErrUnrecognisedJobID if name is absent, or ErrDecodeJobFailed if the
// registered decoder errors.
func (r *Registry) Decode(name string, parameters []byte) (Invocable, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognisedJobID, name)
	}
	return def.decode(parameters)
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
