// Package sqlitedb opens SQLite database/sql handles backed by
// glebarez/go-sqlite, a pure-Go driver requiring no cgo toolchain.
package sqlitedb

import (
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// New opens a SQLite database at path, creating it if absent.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database %s: %w", path, err)
	}
	// SQLite allows only one writer at a time; serialize through a single
	// connection so concurrent callers don't hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewMemory opens a private, in-process SQLite database that exists only
// for the life of the returned *sql.DB. Intended for tests.
func NewMemory() (*sql.DB, error) {
	return New(":memory:")
}
