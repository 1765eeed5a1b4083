package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotrac.db")

	db, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"kv_store", "sync_log"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotrac.db")
	log := zaptest.NewLogger(t)

	db, err := New(path, log)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO kv_store (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path, log)
	require.NoError(t, err, "re-running migrations on an up-to-date database should be a no-op")
	t.Cleanup(func() { db.Close() })

	var value string
	require.NoError(t, db.QueryRow(`SELECT value FROM kv_store WHERE key = 'k'`).Scan(&value))
	assert.Equal(t, "v", value)
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("", zaptest.NewLogger(t))
	assert.Error(t, err)
}
