package sqldriver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	"github.com/northbeam/jobqueue/pkg/database/sqlitedb"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	db, err := sqlitedb.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := New(db, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, d.OnInit(t.Context()))
	return d
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPushThenClaimOneClaimsJob(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	id, err := d.Push(ctx, driver.JobRequest{Name: "greet", Parameters: []byte(`{"name":"ada"}`), QueuedAt: time.Now()})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, job.ID)

	got, err := driver.Unmarshal(job.Buffer)
	require.NoError(t, err)
	assert.Equal(t, "greet", got.Name)
}

func TestClaimOneReturnsFalseWhenNothingDue(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	_, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimOneSkipsJobsNotYetDelayed(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	_, err := d.Push(ctx, driver.JobRequest{Name: "later", QueuedAt: time.Now(), DelayUntil: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimOneDoesNotReclaimLeasedRow(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	_, err := d.Push(ctx, driver.JobRequest{Name: "job", QueuedAt: time.Now()})
	require.NoError(t, err)

	_, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The row is now leased; a second claim should see nothing due.
	_, ok, err = d.claimOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFinishedDeletesRow(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	id, err := d.Push(ctx, driver.JobRequest{Name: "job", QueuedAt: time.Now()})
	require.NoError(t, err)

	_, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Finished(ctx, id))

	var count int
	err = d.db.QueryRowContext(ctx, `SELECT count(*) FROM jobqueue WHERE id = ?`, string(id)).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFailedMovesRowToDeadLetter(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	id, err := d.Push(ctx, driver.JobRequest{Name: "job", QueuedAt: time.Now()})
	require.NoError(t, err)

	_, ok, err := d.claimOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cause := errors.New("boom")
	require.NoError(t, d.Failed(ctx, id, cause))

	var count int
	err = d.db.QueryRowContext(ctx, `SELECT count(*) FROM jobqueue WHERE id = ?`, string(id)).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	var errMsg string
	err = d.db.QueryRowContext(ctx, `SELECT error_message FROM jobqueue_dead WHERE id = ?`, string(id)).Scan(&errMsg)
	require.NoError(t, err)
	assert.Equal(t, "boom", errMsg)
}

func TestFailedUnknownIDReturnsError(t *testing.T) {
	d := newTestDriver(t)
	err := d.Failed(t.Context(), driver.JobID("missing"), errors.New("boom"))
	assert.Error(t, err)
}

func TestMetadataRoundTrips(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()

	v, err := d.GetMetadata(ctx, "cursor")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, d.SetMetadata(ctx, "cursor", []byte("first")))
	v, err = d.GetMetadata(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v)

	require.NoError(t, d.SetMetadata(ctx, "cursor", []byte("second")))
	v, err = d.GetMetadata(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v)
}

func TestStopIsIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx))
}

func TestNextReturnsNotOKAfterStop(t *testing.T) {
	d := newTestDriver(t)
	ctx := t.Context()
	require.NoError(t, d.Stop(ctx))

	_, ok, err := d.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
