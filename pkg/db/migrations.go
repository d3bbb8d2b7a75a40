package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is one schema change. Versions are timestamps (YYYYMMDDHHmmss)
// and are applied in ascending order.
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// Migrator applies migrations and records them in schema_migrations.
type Migrator struct {
	db *sqlx.DB
}

// NewMigrator returns a Migrator for conn.
func NewMigrator(conn *sqlx.DB) *Migrator {
	return &Migrator{db: conn}
}

// Up applies every migration not yet recorded.
func (m *Migrator) Up(ctx context.Context, migrations []Migration) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending := make([]Migration, 0, len(migrations))
	for _, mig := range migrations {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, mig := range pending {
		if err := m.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := mig.Up(tx.Tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				mig.Version, time.Now().UTC(), mig.Description)
			return errors.Wrap(err, "failed to record migration")
		}); err != nil {
			return errors.Wrapf(err, "migration %d (%s)", mig.Version, mig.Description)
		}
	}
	return nil
}

// Down reverts the most recently applied migration.
func (m *Migrator) Down(ctx context.Context, migrations []Migration) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	for _, mig := range migrations {
		if mig.Version != latest {
			continue
		}
		if mig.Down == nil {
			return errors.Errorf("migration %d cannot be reverted", latest)
		}
		return m.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := mig.Down(tx.Tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
			return errors.Wrap(err, "failed to remove migration record")
		})
	}
	return errors.Errorf("migration %d is not known", latest)
}

// Applied lists applied versions in ascending order.
func (m *Migrator) Applied(ctx context.Context) ([]int64, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	var versions []int64
	if err := m.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to list applied migrations")
	}
	return versions, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit migration")
}
