// Package memdriver is an in-memory reference implementation of
// driver.Driver, used by the worker pool's and scheduler's own tests and
// suitable for single-process development use. It is not a production
// driver deliverable (concrete drivers are explicitly out of scope).
package memdriver

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
)

type entry struct {
	id      driver.JobID
	request driver.JobRequest
	index   int
}

// dueHeap orders entries by DelayUntil, ascending; an entry with a zero
// DelayUntil is always due.
type dueHeap []*entry

func (h dueHeap) Len() int { return len(h) }
func (h dueHeap) Less(i, j int) bool {
	return h[i].request.DelayUntil.Before(h[j].request.DelayUntil)
}
func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *dueHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Driver is a single-process, mutex-guarded implementation of
// driver.Driver backed by a min-heap ordered by delay-until.
type Driver struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  dueHeap
	inFlight map[driver.JobID]driver.JobRequest
	metadata map[string][]byte
	failed   map[driver.JobID]error
	stopped  bool
}

var _ driver.Driver = (*Driver)(nil)

// New returns an empty in-memory driver.
func New() *Driver {
	d := &Driver{
		inFlight: make(map[driver.JobID]driver.JobRequest),
		metadata: make(map[string][]byte),
		failed:   make(map[driver.JobID]error),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Driver) OnInit(ctx context.Context) error { return nil }

func (d *Driver) Push(ctx context.Context, request driver.JobRequest) (driver.JobID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := driver.JobID(uuid.NewString())
	heap.Push(&d.pending, &entry{id: id, request: request})
	d.cond.Broadcast()
	return id, nil
}

// Next blocks until a due job is available or the driver stops and drains.
func (d *Driver) Next(ctx context.Context) (driver.QueuedJob, bool, error) {
	d.mu.Lock()
	for {
		if len(d.pending) == 0 {
			if d.stopped {
				d.mu.Unlock()
				return driver.QueuedJob{}, false, nil
			}
			d.waitOrCancel(ctx)
			if ctx.Err() != nil {
				d.mu.Unlock()
				return driver.QueuedJob{}, false, ctx.Err()
			}
			continue
		}

		now := time.Now()
		top := d.pending[0]
		if !top.request.DelayUntil.IsZero() && top.request.DelayUntil.After(now) {
			wait := top.request.DelayUntil.Sub(now)
			d.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return driver.QueuedJob{}, false, ctx.Err()
			}
			d.mu.Lock()
			continue
		}

		e := heap.Pop(&d.pending).(*entry)
		d.inFlight[e.id] = e.request
		buf, err := driver.Marshal(e.request)
		d.mu.Unlock()
		if err != nil {
			return driver.QueuedJob{}, false, driver.WrapError(err)
		}
		return driver.QueuedJob{ID: e.id, Buffer: buf}, true, nil
	}
}

// waitOrCancel waits on the condition variable, but wakes promptly on
// context cancellation: a helper goroutine broadcasts on the condition
// variable when ctx is done.
func (d *Driver) waitOrCancel(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-done:
		}
	}()
	d.cond.Wait()
	close(done)
}

func (d *Driver) Finished(ctx context.Context, id driver.JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
	return nil
}

func (d *Driver) Failed(ctx context.Context, id driver.JobID, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
	d.failed[id] = cause
	return nil
}

// FailureOf reports the cause a job was marked failed with, for test
// assertions. The second return is false if the job was never marked
// failed.
func (d *Driver) FailureOf(id driver.JobID) (error, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	err, ok := d.failed[id]
	return err, ok
}

func (d *Driver) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.metadata[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *Driver) SetMetadata(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	d.metadata[key] = stored
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cond.Broadcast()
	return nil
}

func (d *Driver) ShutdownGracefully(ctx context.Context) error { return nil }

// Len reports the number of jobs currently pending (not yet delivered),
// for test assertions.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (e *entry) String() string {
	return fmt.Sprintf("entry{id=%s name=%s}", e.id, e.request.Name)
}
