package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpen(t *testing.T) {
	conn := openTemp(t)

	var mode string
	require.NoError(t, conn.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, conn.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}

func TestDefaultPath(t *testing.T) {
	t.Run("base path override", func(t *testing.T) {
		t.Setenv(BasePathEnv, "/custom/base")
		path, err := DefaultPath()
		require.NoError(t, err)
		assert.Equal(t, "/custom/base/ledger.db", path)
	})

	t.Run("home directory", func(t *testing.T) {
		t.Setenv(BasePathEnv, "")
		path, err := DefaultPath()
		require.NoError(t, err)
		home, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(home, ".saipling", "ledger.db"), path)
	})

	assert.Equal(t, filepath.Join("book", ".saipling", "ledger.db"), ProjectPath("book"))
}

func createTable(version int64) Migration {
	return Migration{
		Version:     version,
		Description: "create things",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE things (id INTEGER PRIMARY KEY)")
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE things")
			return err
		},
	}
}

func addColumn(version int64) Migration {
	return Migration{
		Version:     version,
		Description: "add name",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE things ADD COLUMN name TEXT")
			return err
		},
	}
}

func tableExists(t *testing.T, conn *sqlx.DB, name string) bool {
	t.Helper()
	var exists bool
	require.NoError(t, conn.QueryRow(
		"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&exists))
	return exists
}

func TestMigrator(t *testing.T) {
	ctx := context.Background()

	t.Run("applies in version order and only once", func(t *testing.T) {
		conn := openTemp(t)
		m := NewMigrator(conn)
		migrations := []Migration{addColumn(20260101000002), createTable(20260101000001)}

		require.NoError(t, m.Up(ctx, migrations))
		require.NoError(t, m.Up(ctx, migrations))

		versions, err := m.Applied(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{20260101000001, 20260101000002}, versions)
		assert.True(t, tableExists(t, conn, "things"))
	})

	t.Run("down reverts the latest", func(t *testing.T) {
		conn := openTemp(t)
		m := NewMigrator(conn)
		migrations := []Migration{createTable(20260101000001)}

		require.NoError(t, m.Up(ctx, migrations))
		require.NoError(t, m.Down(ctx, migrations))
		assert.False(t, tableExists(t, conn, "things"))

		versions, err := m.Applied(ctx)
		require.NoError(t, err)
		assert.Empty(t, versions)

		require.NoError(t, m.Down(ctx, migrations), "nothing left to revert")
	})

	t.Run("down without a revert function", func(t *testing.T) {
		conn := openTemp(t)
		m := NewMigrator(conn)
		migrations := []Migration{createTable(20260101000001), addColumn(20260101000002)}

		require.NoError(t, m.Up(ctx, migrations))
		assert.Error(t, m.Down(ctx, migrations))
	})

	t.Run("failed migration is not recorded", func(t *testing.T) {
		conn := openTemp(t)
		m := NewMigrator(conn)
		broken := Migration{
			Version: 20260101000009,
			Up:      func(*sql.Tx) error { return errors.New("boom") },
		}

		err := m.Up(ctx, []Migration{broken})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")

		versions, err := m.Applied(ctx)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsBusy(errors.Wrap(errors.New("SQLITE_BUSY"), "insert")))
	assert.False(t, IsBusy(errors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
