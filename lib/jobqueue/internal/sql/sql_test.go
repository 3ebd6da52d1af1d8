package sql

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/jobqueue/pkg/database/sqlitedb"
)

func TestInTxCommitsOnSuccess(t *testing.T) {
	db, err := sqlitedb.NewMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	err = InTx(db, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO t (id) VALUES (1)`)
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM t`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, err := sqlitedb.NewMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	wantErr := errors.New("boom")
	err = InTx(db, func(tx *sql.Tx) error {
		if _, execErr := tx.Exec(`INSERT INTO t (id) VALUES (1)`); execErr != nil {
			return execErr
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)
}
