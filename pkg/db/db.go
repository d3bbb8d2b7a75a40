// Package db opens the SQLite database that backs the project cost ledger.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// BasePathEnv overrides the directory holding saipling's local state.
const BasePathEnv = "SAIPLING_BASE_PATH"

// DefaultPath returns the ledger database location: $SAIPLING_BASE_PATH/ledger.db
// when set, otherwise ~/.saipling/ledger.db.
func DefaultPath() (string, error) {
	if base := os.Getenv(BasePathEnv); base != "" {
		return filepath.Join(base, "ledger.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".saipling", "ledger.db"), nil
}

// ProjectPath returns the ledger location inside a workspace.
func ProjectPath(root string) string {
	return filepath.Join(root, ".saipling", "ledger.db")
}

// Open creates the parent directory if needed, opens the database and
// applies the connection pragmas.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=memory",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Configure switches the database to WAL mode with a single writer
// connection.
func Configure(ctx context.Context, conn *sqlx.DB) error {
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %s", pragma)
		}
	}

	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)

	var mode string
	if err := conn.GetContext(ctx, &mode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if !strings.EqualFold(mode, "wal") {
		return errors.Errorf("journal mode is %s, want wal", mode)
	}
	return nil
}

// IsBusy reports whether err is SQLite's transient lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
