package costs

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/db"
	"github.com/TenVexAI/saipling/pkg/db/migrations"
	"github.com/TenVexAI/saipling/pkg/logger"
)

const (
	busyAttempts = 5
	busyDelay    = 50 * time.Millisecond
	busyMaxDelay = time.Second
)

// Ledger is a SQLite-backed Accumulator holding the project total and one
// row per generation.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

// ModelSummary aggregates ledger rows for one model.
type ModelSummary struct {
	Model        string  `db:"model" json:"model"`
	Generations  int     `db:"generations" json:"generations"`
	InputTokens  int     `db:"input_tokens" json:"input_tokens"`
	OutputTokens int     `db:"output_tokens" json:"output_tokens"`
	Cost         float64 `db:"cost" json:"cost"`
}

// OpenLedger opens the database at path and brings its schema up to date.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrator(conn).Up(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate ledger")
	}
	return NewLedger(conn), nil
}

// NewLedger wraps an already migrated connection.
func NewLedger(conn *sqlx.DB) *Ledger {
	return &Ledger{db: conn, now: time.Now}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// AddCost records entry. Writes that hit a locked database are retried
// with backoff.
func (l *Ledger) AddCost(ctx context.Context, entry Entry) error {
	if entry.Cost < 0 {
		return errors.Wrapf(ErrNegativeCost, "plan %s", entry.PlanID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}

	err := retry.Do(
		func() error {
			_, err := l.db.NamedExecContext(ctx, `
				INSERT INTO generation_costs (plan_id, model, input_tokens, output_tokens, cost, created_at)
				VALUES (:plan_id, :model, :input_tokens, :output_tokens, :cost, :created_at)
			`, entry)
			return err
		},
		retry.RetryIf(db.IsBusy),
		retry.Attempts(busyAttempts),
		retry.Delay(busyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(busyMaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("ledger busy, retrying")
		}),
	)
	return errors.Wrap(err, "failed to record generation cost")
}

// CurrentTotal returns the sum of every recorded cost.
func (l *Ledger) CurrentTotal(ctx context.Context) (float64, error) {
	var total float64
	if err := l.db.GetContext(ctx, &total, "SELECT COALESCE(SUM(cost), 0) FROM generation_costs"); err != nil {
		return 0, errors.Wrap(err, "failed to sum generation costs")
	}
	return total, nil
}

// Summary groups the ledger by model, most expensive first.
func (l *Ledger) Summary(ctx context.Context) ([]ModelSummary, error) {
	var rows []ModelSummary
	err := l.db.SelectContext(ctx, &rows, `
		SELECT model,
		       COUNT(*) AS generations,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens,
		       COALESCE(SUM(cost), 0) AS cost
		FROM generation_costs
		GROUP BY model
		ORDER BY cost DESC, model
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarize generation costs")
	}
	return rows, nil
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var rows []Entry
	err := l.db.SelectContext(ctx, &rows, `
		SELECT plan_id, model, input_tokens, output_tokens, cost, created_at
		FROM generation_costs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list generation costs")
	}
	return rows, nil
}

// Between returns entries created in [since, until], oldest first. A zero
// bound is open.
func (l *Ledger) Between(ctx context.Context, since, until time.Time) ([]Entry, error) {
	var rows []Entry
	err := l.db.SelectContext(ctx, &rows, `
		SELECT plan_id, model, input_tokens, output_tokens, cost, created_at
		FROM generation_costs
		ORDER BY id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list generation costs")
	}

	filtered := rows[:0]
	for _, row := range rows {
		if !since.IsZero() && row.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && row.CreatedAt.After(until) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered, nil
}
