package driver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrips(t *testing.T) {
	req := JobRequest{
		Name:       "greet",
		Parameters: []byte(`{"name":"ada"}`),
		QueuedAt:   time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		Attempts:   2,
		DelayUntil: time.Date(2026, 7, 30, 12, 5, 0, 0, time.UTC),
	}

	buf, err := Marshal(req)
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, req.Name, got.Name)
	assert.Equal(t, req.Parameters, got.Parameters)
	assert.True(t, req.QueuedAt.Equal(got.QueuedAt))
	assert.Equal(t, req.Attempts, got.Attempts)
	assert.True(t, req.DelayUntil.Equal(got.DelayUntil))
}

func TestDelayedReportsWhetherDelayUntilIsInFuture(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	assert.False(t, JobRequest{}.Delayed(now))
	assert.False(t, JobRequest{DelayUntil: now.Add(-time.Minute)}.Delayed(now))
	assert.True(t, JobRequest{DelayUntil: now.Add(time.Minute)}.Delayed(now))
}

func TestWrapErrorNilReturnsNil(t *testing.T) {
	assert.NoError(t, WrapError(nil))
}

func TestWrapErrorWrapsAsDriverError(t *testing.T) {
	cause := errors.New("io timeout")
	wrapped := WrapError(cause)
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, ErrDriverError)
	assert.ErrorIs(t, wrapped, cause)
}
