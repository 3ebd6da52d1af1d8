// Package postgresdb opens database/sql handles against PostgreSQL via
// jackc/pgx/v5's database/sql driver shim.
package postgresdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var log = logging.Logger("database")

const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 5
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime.
	DefaultConnMaxLifetime = 30 * time.Minute
)

// Options configures a PostgreSQL connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Option is a functional option for configuring PostgreSQL connections.
type Option func(*Options)

func WithMaxOpenConns(n int) Option {
	return func(o *Options) { o.MaxOpenConns = n }
}

func WithMaxIdleConns(n int) Option {
	return func(o *Options) { o.MaxIdleConns = n }
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) { o.ConnMaxLifetime = d }
}

// New opens a PostgreSQL connection pool against connURL, optionally
// creating and scoping all connections to a dedicated schema.
func New(connURL string, schema string, opts ...Option) (*sql.DB, error) {
	cfg := &Options{
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := connURL
	if schema != "" {
		u, err := url.Parse(connURL)
		if err != nil {
			return nil, fmt.Errorf("parsing connection URL: %w", err)
		}
		q := u.Query()
		q.Set("search_path", fmt.Sprintf("%s,public", schema))
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	log.Infof("connecting to postgres (schema: %s)", schema)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if schema != "" {
		if err := createSchema(db, schema); err != nil {
			db.Close()
			return nil, err
		}
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func createSchema(db *sql.DB, schema string) error {
	_, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	return nil
}
