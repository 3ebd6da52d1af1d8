// Package metrics adapts the worker pool's status transitions onto
// pkg/telemetry, following the gauge-delta accumulator pattern of the
// teacher's lib/jobqueue/worker/telemetry.go.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/northbeam/jobqueue/pkg/telemetry"
)

var log = logging.Logger("jobqueue/metrics")

// jobDurationBounds are in milliseconds, covering 5ms up to 30 minutes.
var jobDurationBounds = []float64{
	5, 10, 25, 50, 75, 100, 250, 500, 750,
	1000, 2500, 5000, 7500, 10000, 30000,
	60000, 120000, 300000, 600000, 900000, 1200000, 1800000,
}

type gaugeKey struct {
	name string
}

// Emitter records the status transitions, durations and queue-depth signals
// spec.md §4.7 names.
type Emitter struct {
	queuedGauge            *telemetry.Gauge
	processingGauge        *telemetry.Gauge
	statusCounter          *telemetry.Counter
	durationTimer          *telemetry.Timer
	queuedForDurationTimer *telemetry.Timer

	queuedCounts     sync.Map // map[gaugeKey]*atomic.Int64
	processingCounts sync.Map // map[gaugeKey]*atomic.Int64
}

// New builds an Emitter from tel, recording a constant "workers" gauge set
// to numWorkers. If tel is nil, the process-global Telemetry is used.
func New(tel *telemetry.Telemetry, numWorkers int) (*Emitter, error) {
	if tel == nil {
		tel = telemetry.Global()
	}

	queuedGauge, err := tel.NewGauge(telemetry.GaugeConfig{
		Name:        "jobqueue_jobs_queued",
		Description: "number of jobs currently queued, awaiting execution",
		Unit:        "jobs",
	})
	if err != nil {
		log.Warnw("failed to init queued gauge", "error", err)
	}

	processingGauge, err := tel.NewGauge(telemetry.GaugeConfig{
		Name:        "jobqueue_jobs_processing",
		Description: "number of jobs currently executing",
		Unit:        "jobs",
	})
	if err != nil {
		log.Warnw("failed to init processing gauge", "error", err)
	}

	statusCounter, err := tel.NewCounter(telemetry.CounterConfig{
		Name:        "jobqueue_jobs_total",
		Description: "job attempts by terminal status",
	})
	if err != nil {
		log.Warnw("failed to init status counter", "error", err)
	}

	durationTimer, err := tel.NewTimer(telemetry.TimerConfig{
		Name:        "jobqueue_job_duration",
		Description: "time spent executing a job attempt until its outcome",
		Unit:        "ms",
		Boundaries:  jobDurationBounds,
	})
	if err != nil {
		log.Warnw("failed to init duration timer", "error", err)
	}

	queuedForDurationTimer, err := tel.NewTimer(telemetry.TimerConfig{
		Name:        "jobqueue_jobs_queued_for_duration",
		Description: "time from a job's original enqueue to the start of each execution attempt",
		Unit:        "ms",
		Boundaries:  jobDurationBounds,
	})
	if err != nil {
		log.Warnw("failed to init queued-for timer", "error", err)
	}

	if _, err := tel.NewConstantGauge(telemetry.ConstantGaugeConfig{
		Name:        "jobqueue_workers",
		Description: "configured worker pool concurrency",
		Value:       int64(numWorkers),
	}); err != nil {
		log.Warnw("failed to init workers gauge", "error", err)
	}

	return &Emitter{
		queuedGauge:            queuedGauge,
		processingGauge:        processingGauge,
		statusCounter:          statusCounter,
		durationTimer:          durationTimer,
		queuedForDurationTimer: queuedForDurationTimer,
	}, nil
}

// QueuedDelta adjusts the "queued" meter for name by delta.
func (e *Emitter) QueuedDelta(ctx context.Context, name string, delta int64) {
	if e == nil {
		return
	}
	recordGaugeDelta(ctx, e.queuedGauge, &e.queuedCounts, name, delta)
}

// ProcessingDelta adjusts the "processing" meter for name by delta.
func (e *Emitter) ProcessingDelta(ctx context.Context, name string, delta int64) {
	if e == nil {
		return
	}
	recordGaugeDelta(ctx, e.processingGauge, &e.processingCounts, name, delta)
}

// RecordTerminal records one attempt's outcome: a counter increment and a
// duration sample, both dimensioned by job name and status.
func (e *Emitter) RecordTerminal(ctx context.Context, name, status string, duration time.Duration) {
	if e == nil {
		return
	}
	if e.statusCounter != nil {
		e.statusCounter.Inc(ctx,
			telemetry.StringAttr("name", name),
			telemetry.StringAttr("status", status),
		)
	}
	if e.durationTimer != nil {
		e.durationTimer.Record(ctx, duration,
			telemetry.StringAttr("name", name),
			telemetry.StringAttr("status", status),
		)
	}
}

// RecordQueuedFor records how long a job has waited since it was first
// queued, sampled at the start of each execution attempt (retries keep the
// original queue time).
func (e *Emitter) RecordQueuedFor(ctx context.Context, name string, d time.Duration) {
	if e == nil || e.queuedForDurationTimer == nil {
		return
	}
	e.queuedForDurationTimer.Record(ctx, d, telemetry.StringAttr("name", name))
}

func recordGaugeDelta(ctx context.Context, gauge *telemetry.Gauge, counts *sync.Map, name string, delta int64) {
	if gauge == nil || name == "" {
		return
	}

	key := gaugeKey{name: name}
	val, _ := counts.LoadOrStore(key, &atomic.Int64{})
	current := val.(*atomic.Int64).Add(delta)
	if current < 0 {
		val.(*atomic.Int64).Store(0)
		current = 0
	}

	gauge.Record(ctx, current, telemetry.StringAttr("name", name))
}
