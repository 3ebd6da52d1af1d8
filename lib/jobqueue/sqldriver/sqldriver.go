// Package sqldriver is a database/sql-backed driver.Driver, adapted from
// the goqite-derived SQL queue: a single table polled with an UPDATE ...
// RETURNING claim, a dead letter table for terminal failures, and a small
// key/value metadata table the scheduler uses to persist its cursor.
//
// It runs against any database/sql driver; dialect.Dialect rebinds the `?`
// placeholders used throughout to PostgreSQL's `$N` form when needed.
package sqldriver

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/northbeam/jobqueue/lib/jobqueue/dialect"
	"github.com/northbeam/jobqueue/lib/jobqueue/driver"
	internalsql "github.com/northbeam/jobqueue/lib/jobqueue/internal/sql"
	"github.com/northbeam/jobqueue/lib/jobqueue/logger"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQLite string

//go:embed schema.postgres.sql
var schemaPostgres string

// rfc3339Milli matches time.RFC3339Nano but with a fixed millisecond
// fraction, so lexicographic string ordering matches chronological order.
const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Config holds Driver construction parameters.
type Config struct {
	DB   *sql.DB
	Dial dialect.Dialect

	// PollInterval is how often Next polls for a due, unleased job.
	PollInterval time.Duration

	// LeaseTimeout bounds how long a claimed-but-unfinished job stays
	// invisible to other pulls before it is eligible for redelivery.
	LeaseTimeout time.Duration

	Logger logger.StandardLogger
}

// Option modifies a Config before constructing a Driver.
type Option func(*Config)

func WithDialect(d dialect.Dialect) Option {
	return func(cfg *Config) { cfg.Dial = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(cfg *Config) { cfg.PollInterval = d }
}

func WithLeaseTimeout(d time.Duration) Option {
	return func(cfg *Config) { cfg.LeaseTimeout = d }
}

func WithLogger(l logger.StandardLogger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Driver is a driver.Driver backed by a SQL table, polled at PollInterval.
type Driver struct {
	db     *sql.DB
	dial   dialect.Dialect
	poll   time.Duration
	lease  time.Duration
	log      logger.StandardLogger
	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ driver.Driver = (*Driver)(nil)

// New constructs a Driver against db. OnInit must be called once before the
// first Next to create the schema.
func New(db *sql.DB, opts ...Option) (*Driver, error) {
	if db == nil {
		return nil, errors.New("sqldriver: db is required")
	}

	cfg := &Config{
		DB:           db,
		PollInterval: 500 * time.Millisecond,
		LeaseTimeout: 30 * time.Second,
		Logger:       &logger.DiscardLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Driver{
		db:     db,
		dial:   cfg.Dial,
		poll:   cfg.PollInterval,
		lease:  cfg.LeaseTimeout,
		log:    cfg.Logger,
		stopCh: make(chan struct{}),
	}, nil
}

// OnInit creates the jobqueue/jobqueue_dead/jobqueue_metadata tables.
func (d *Driver) OnInit(ctx context.Context) error {
	schema := schemaSQLite
	if d.dial.IsPostgres() {
		schema = schemaPostgres
	}
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return driver.WrapError(fmt.Errorf("setup schema (%s): %w", d.dial, err))
	}
	return nil
}

// Push inserts request as a new row, due at request.DelayUntil (or
// immediately if zero).
func (d *Driver) Push(ctx context.Context, request driver.JobRequest) (driver.JobID, error) {
	buf, err := driver.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("sqldriver: marshal request: %w", err)
	}

	id := driver.JobID(uuid.NewString())
	delayUntil := request.DelayUntil
	if delayUntil.IsZero() {
		delayUntil = time.Now()
	}

	err = internalsql.InTx(d.db, func(tx *sql.Tx) error {
		query := d.dial.Rebind(`
			INSERT INTO jobqueue (id, name, envelope, queued_at, attempts, delay_until)
			VALUES (?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			string(id), request.Name, buf,
			request.QueuedAt.Format(rfc3339Milli), request.Attempts,
			delayUntil.Format(rfc3339Milli))
		return err
	})
	if err != nil {
		return "", driver.WrapError(fmt.Errorf("push job: %w", err))
	}
	return id, nil
}

// Next polls at d.poll until a due, unleased job is claimed, the context is
// cancelled, or the driver is stopped and nothing is due (rows delayed into
// the future stay in the table).
func (d *Driver) Next(ctx context.Context) (driver.QueuedJob, bool, error) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		job, ok, err := d.claimOne(ctx)
		if err != nil {
			return driver.QueuedJob{}, false, driver.WrapError(err)
		}
		if ok {
			return job, true, nil
		}

		select {
		case <-d.stopCh:
			return driver.QueuedJob{}, false, nil
		case <-ctx.Done():
			return driver.QueuedJob{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claimOne atomically selects the oldest due, unleased row and extends its
// lease, returning (QueuedJob{}, false, nil) if none is due.
func (d *Driver) claimOne(ctx context.Context) (driver.QueuedJob, bool, error) {
	now := time.Now()
	leasedUntil := now.Add(d.lease).Format(rfc3339Milli)

	query := d.dial.Rebind(`
		UPDATE jobqueue
		SET leased_until = ?
		WHERE id = (
			SELECT id FROM jobqueue
			WHERE delay_until <= ? AND leased_until <= ?
			ORDER BY queued_at
			LIMIT 1
		)
		RETURNING id, envelope`)

	var id string
	var envelope []byte
	err := internalsql.InTx(d.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, leasedUntil, now.Format(rfc3339Milli), now.Format(rfc3339Milli)).Scan(&id, &envelope)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return driver.QueuedJob{}, false, nil
		}
		return driver.QueuedJob{}, false, err
	}

	return driver.QueuedJob{ID: driver.JobID(id), Buffer: envelope}, true, nil
}

// Finished deletes the row for id.
func (d *Driver) Finished(ctx context.Context, id driver.JobID) error {
	query := d.dial.Rebind(`DELETE FROM jobqueue WHERE id = ?`)
	if _, err := d.db.ExecContext(ctx, query, string(id)); err != nil {
		return driver.WrapError(fmt.Errorf("finish job %s: %w", id, err))
	}
	return nil
}

// Failed moves the row for id into jobqueue_dead and deletes it from
// jobqueue, recording cause for operator visibility.
func (d *Driver) Failed(ctx context.Context, id driver.JobID, cause error) error {
	movedAt := time.Now().Format(rfc3339Milli)

	err := internalsql.InTx(d.db, func(tx *sql.Tx) error {
		insert := d.dial.Rebind(`
			INSERT INTO jobqueue_dead (id, created, name, envelope, queued_at, attempts, error_message, moved_at)
			SELECT id, created, name, envelope, queued_at, attempts, ?, ?
			FROM jobqueue
			WHERE id = ?`)
		res, err := tx.ExecContext(ctx, insert, cause.Error(), movedAt, string(id))
		if err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check dead letter insert: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("job %s not found", id)
		}

		del := d.dial.Rebind(`DELETE FROM jobqueue WHERE id = ?`)
		_, err = tx.ExecContext(ctx, del, string(id))
		return err
	})
	if err != nil {
		return driver.WrapError(fmt.Errorf("fail job %s: %w", id, err))
	}

	d.log.Warnw("moved job to dead letter queue", "id", id, "error", cause)
	return nil
}

// GetMetadata reads value by key, returning (nil, nil) if absent.
func (d *Driver) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	query := d.dial.Rebind(`SELECT value FROM jobqueue_metadata WHERE key = ?`)
	var value []byte
	err := d.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, driver.WrapError(fmt.Errorf("get metadata %s: %w", key, err))
	}
	return value, nil
}

// SetMetadata upserts value under key.
func (d *Driver) SetMetadata(ctx context.Context, key string, value []byte) error {
	query := d.dial.InsertIgnore("jobqueue_metadata", "key, value", "?, ?")
	if _, err := d.db.ExecContext(ctx, query, key, value); err != nil {
		return driver.WrapError(fmt.Errorf("set metadata %s: %w", key, err))
	}

	update := d.dial.Rebind(`UPDATE jobqueue_metadata SET value = ? WHERE key = ?`)
	if _, err := d.db.ExecContext(ctx, update, value, key); err != nil {
		return driver.WrapError(fmt.Errorf("set metadata %s: %w", key, err))
	}
	return nil
}

// Stop signals Next to stop polling once nothing is due.
func (d *Driver) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	return nil
}

// ShutdownGracefully closes the database handle.
func (d *Driver) ShutdownGracefully(ctx context.Context) error {
	return d.db.Close()
}
