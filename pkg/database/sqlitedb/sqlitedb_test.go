package sqlitedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryOpensUsablePool(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO t (name) VALUES (?)`, "ada")
	require.NoError(t, err)

	var name string
	err = db.QueryRow(`SELECT name FROM t WHERE id = 1`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "ada", name)
}

func TestNewSerializesWritesThroughSingleConnection(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}
