package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsEmitterAgainstGlobalTelemetry(t *testing.T) {
	e, err := New(nil, 4)
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestEmitterMethodsToleratesNilReceiver(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.QueuedDelta(t.Context(), "job", 1)
		e.ProcessingDelta(t.Context(), "job", -1)
		e.RecordTerminal(t.Context(), "job", "succeeded", time.Millisecond)
		e.RecordQueuedFor(t.Context(), "job", time.Millisecond)
	})
}

func TestQueuedAndProcessingDeltaDoNotPanic(t *testing.T) {
	e, err := New(nil, 2)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.QueuedDelta(t.Context(), "job", 1)
		e.QueuedDelta(t.Context(), "job", -1)
		e.QueuedDelta(t.Context(), "job", -5) // clamps at zero internally
		e.ProcessingDelta(t.Context(), "job", 1)
		e.ProcessingDelta(t.Context(), "job", -1)
	})
}

func TestRecordTerminalAndQueuedForDoNotPanic(t *testing.T) {
	e, err := New(nil, 1)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.RecordTerminal(t.Context(), "job", "succeeded", 10*time.Millisecond)
		e.RecordTerminal(t.Context(), "job", "failed", 20*time.Millisecond)
		e.RecordQueuedFor(t.Context(), "job", 5*time.Millisecond)
	})
}

func TestRecordGaugeDeltaIgnoresEmptyName(t *testing.T) {
	e, err := New(nil, 1)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.QueuedDelta(t.Context(), "", 1)
	})
}
