// Package sql provides a small transaction helper shared by sqldriver.
package sql

import "database/sql"

// InTx runs fn inside a transaction on db, committing on success and
// rolling back if fn or the commit itself fails.
func InTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
