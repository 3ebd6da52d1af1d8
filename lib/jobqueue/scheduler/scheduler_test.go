package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/lib/jobqueue/memdriver"
)

// fixedStepRecurrence advances by a constant step, independent of wall-clock
// boundaries, so catch-up math is exact and easy to assert on.
type fixedStepRecurrence struct {
	step time.Duration
}

func (f fixedStepRecurrence) NextDate(after time.Time) time.Time {
	return after.Add(f.step)
}

type fakePusher struct {
	mu    sync.Mutex
	pushed []string
}

func (p *fakePusher) Push(ctx context.Context, name string, parameters []byte, delayUntil time.Time) (driver.JobID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, name)
	return driver.JobID(name), nil
}

func (p *fakePusher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.pushed))
	copy(out, p.pushed)
	return out
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *memdriver.Driver, *fakePusher) {
	t.Helper()
	d := memdriver.New()
	pusher := &fakePusher{}
	s, err := New(d, pusher, opts...)
	require.NoError(t, err)
	return s, d, pusher
}

func TestAddJobDefaultsAccuracyToLatest(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.AddJob("job", nil, fixedStepRecurrence{step: time.Minute}, "")
	require.Len(t, s.entries, 1)
	assert.Equal(t, AccuracyLatest, s.entries[0].accuracy)
}

func TestCatchUpAccuracyLatestCollapsesMissedFirings(t *testing.T) {
	s, _, pusher := newTestScheduler(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &entry{name: "latest-job", schedule: fixedStepRecurrence{step: time.Minute}, accuracy: AccuracyLatest, next: start}
	s.entries = []*entry{e}

	now := start.Add(5 * time.Minute)
	s.catchUp(t.Context(), now)

	assert.Equal(t, []string{"latest-job"}, pusher.names())
	assert.Equal(t, now.Add(time.Minute), e.next)
}

func TestCatchUpAccuracyAllReplaysEachMissedFiring(t *testing.T) {
	s, _, pusher := newTestScheduler(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &entry{name: "all-job", schedule: fixedStepRecurrence{step: time.Minute}, accuracy: AccuracyAll, next: start}
	s.entries = []*entry{e}

	now := start.Add(3 * time.Minute)
	s.catchUp(t.Context(), now)

	assert.Equal(t, []string{"all-job", "all-job", "all-job", "all-job"}, pusher.names())
	assert.Equal(t, start.Add(4*time.Minute), e.next)
}

func TestCatchUpLeavesFutureEntriesUntouched(t *testing.T) {
	s, _, pusher := newTestScheduler(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &entry{name: "future-job", schedule: fixedStepRecurrence{step: time.Minute}, accuracy: AccuracyLatest, next: start.Add(time.Hour)}
	s.entries = []*entry{e}

	s.catchUp(t.Context(), start)

	assert.Empty(t, pusher.names())
	assert.Equal(t, start.Add(time.Hour), e.next)
}

func TestNextJobPicksEarliestTiebreakLowerIndex(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &entry{name: "a", next: due}
	b := &entry{name: "b", next: due}
	c := &entry{name: "c", next: due.Add(time.Minute)}
	s.entries = []*entry{a, b, c}

	idx, got := s.nextJob()
	assert.Equal(t, 0, idx)
	assert.Same(t, a, got)
}

func TestRunFiresDueEntryAndPersistsCursor(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := NewMockClock(t0)

	s, d, pusher := newTestScheduler(t, WithClock(mock))
	s.AddJob("tick", []byte("p"), fixedStepRecurrence{step: 10 * time.Millisecond}, AccuracyLatest)

	ctx, cancel := context.WithCancel(t.Context())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Advance(2 * time.Millisecond)
		return len(pusher.names()) > 0
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	assert.Contains(t, pusher.names(), "tick")

	raw, err := d.GetMetadata(ctx, driver.MetadataKeyScheduleLastDate)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestRunIdlesWithNoEntries(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	ctx, cancel := context.WithCancel(t.Context())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler with no entries did not stop on cancellation")
	}
}

func TestNewRequiresDriverAndPusher(t *testing.T) {
	d := memdriver.New()
	_, err := New(nil, &fakePusher{})
	assert.Error(t, err)

	_, err = New(d, nil)
	assert.Error(t, err)
}
