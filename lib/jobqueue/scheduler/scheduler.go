// Package scheduler maintains an ordered list of recurring jobs and pushes
// each onto a target queue at its programmed fire instants, replaying any
// firings missed across a restart from a single persisted cursor.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/lib/jobqueue/logger"
	"github.com/northbeam/jobqueue/lib/jobqueue/schedcalc"
)

// Accuracy controls how a scheduled entry replays firings it missed while
// the scheduler was not running.
type Accuracy string

const (
	// AccuracyLatest collapses any missed firings into a single push.
	AccuracyLatest Accuracy = "latest"
	// AccuracyAll replays every missed firing, in order, one push each.
	AccuracyAll Accuracy = "all"
)

// Pusher is the subset of the worker pool's surface the scheduler needs to
// enqueue a due job. *pool.Pool satisfies this.
type Pusher interface {
	Push(ctx context.Context, name string, parameters []byte, delayUntil time.Time) (driver.JobID, error)
}

type entry struct {
	name       string
	parameters []byte
	schedule   schedcalc.Recurrence
	accuracy   Accuracy
	next       time.Time
}

// Config holds Scheduler construction parameters.
type Config struct {
	Clock  Clock
	Logger logger.StandardLogger
}

// Option modifies a Config before constructing a Scheduler.
type Option func(*Config)

func WithClock(c Clock) Option {
	return func(cfg *Config) { cfg.Clock = c }
}

func WithLogger(l logger.StandardLogger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Scheduler is a long-running service that, for a fixed list of entries,
// pushes each entry's job at each scheduled instant. It persists only a
// cursor (driver.MetadataKeyScheduleLastDate), so it is stateless across
// restarts beyond that one key.
type Scheduler struct {
	mu      sync.Mutex
	entries []*entry

	driver driver.Driver
	pusher Pusher
	clock  Clock
	log    logger.StandardLogger

	sessionID string
}

// New constructs a Scheduler that persists its cursor on d and pushes due
// jobs through pusher.
func New(d driver.Driver, pusher Pusher, opts ...Option) (*Scheduler, error) {
	if d == nil {
		return nil, errors.New("scheduler: driver is required")
	}
	if pusher == nil {
		return nil, errors.New("scheduler: pusher is required")
	}

	cfg := &Config{
		Clock:  realClock{},
		Logger: &logger.DiscardLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Scheduler{
		driver:    d,
		pusher:    pusher,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		sessionID: uuid.NewString(),
	}, nil
}

// AddJob appends a recurring entry. It must be called before Run; next
// fire instants are computed (from the persisted cursor, or now if absent)
// when Run starts.
func (s *Scheduler) AddJob(name string, parameters []byte, schedule schedcalc.Recurrence, accuracy Accuracy) {
	if accuracy == "" {
		accuracy = AccuracyLatest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		name:       name,
		parameters: parameters,
		schedule:   schedule,
		accuracy:   accuracy,
	})
}

// Run blocks, pushing due jobs until ctx is cancelled. The sleep between
// firings is cancellation-aware.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		s.log.Infow("scheduler has no entries, idling", "session", s.sessionID)
		<-ctx.Done()
		return nil
	}

	lastDate := s.readLastDate(ctx)
	now := s.clock.Now()
	if lastDate.IsZero() {
		lastDate = now
	}
	for _, e := range s.entries {
		e.next = e.schedule.NextDate(lastDate)
	}

	s.log.Infow("scheduler starting", "session", s.sessionID, "entries", len(s.entries), "lastDate", lastDate)
	s.catchUp(ctx, now)

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopping", "session", s.sessionID)
			return nil
		default:
		}

		_, due := s.nextJob()
		fire := due.next

		wait := fire.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopping", "session", s.sessionID)
			return nil
		case <-s.clock.After(wait):
		}

		s.fireAt(ctx, fire)
	}
}

// catchUp replays firings missed between the persisted cursor and now,
// honoring each entry's own accuracy policy.
func (s *Scheduler) catchUp(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if e.accuracy == AccuracyLatest && !e.next.After(now) {
			s.pushEntry(ctx, e)
			e.next = e.schedule.NextDate(now)
		}
	}

	for {
		e := s.dueAllEntry(now)
		if e == nil {
			return
		}
		s.pushEntry(ctx, e)
		e.next = e.schedule.NextDate(e.next)
	}
}

// dueAllEntry returns the accuracy=all entry with the smallest next that is
// still due at now, or nil if none remain.
func (s *Scheduler) dueAllEntry(now time.Time) *entry {
	var best *entry
	for _, e := range s.entries {
		if e.accuracy != AccuracyAll || e.next.After(now) {
			continue
		}
		if best == nil || e.next.Before(best.next) {
			best = e
		}
	}
	return best
}

// nextJob returns the entry with the smallest next, ties broken by lower
// index.
func (s *Scheduler) nextJob() (int, *entry) {
	bestIdx := -1
	var best *entry
	for i, e := range s.entries {
		if best == nil || e.next.Before(best.next) {
			best = e
			bestIdx = i
		}
	}
	return bestIdx, best
}

// fireAt pushes every entry whose next equals fire, advances them, and
// persists the cursor.
func (s *Scheduler) fireAt(ctx context.Context, fire time.Time) {
	for _, e := range s.entries {
		if e.next.Equal(fire) {
			s.pushEntry(ctx, e)
			e.next = e.schedule.NextDate(fire)
		}
	}
	s.persistLastDate(ctx, fire)
}

func (s *Scheduler) pushEntry(ctx context.Context, e *entry) {
	if _, err := s.pusher.Push(ctx, e.name, e.parameters, time.Time{}); err != nil {
		s.log.Errorw("scheduler: failed to push due job", "session", s.sessionID, "name", e.name, "error", err)
	}
}

func (s *Scheduler) readLastDate(ctx context.Context) time.Time {
	b, err := s.driver.GetMetadata(ctx, driver.MetadataKeyScheduleLastDate)
	if err != nil || len(b) == 0 {
		return time.Time{}
	}
	var t time.Time
	if err := t.UnmarshalBinary(b); err != nil {
		return time.Time{}
	}
	return t
}

func (s *Scheduler) persistLastDate(ctx context.Context, t time.Time) {
	b, err := t.MarshalBinary()
	if err != nil {
		s.log.Errorw("scheduler: failed to marshal cursor", "error", err)
		return
	}
	if err := s.driver.SetMetadata(ctx, driver.MetadataKeyScheduleLastDate, b); err != nil {
		s.log.Errorw("scheduler: failed to persist cursor", "session", s.sessionID, "error", err)
	}
}
