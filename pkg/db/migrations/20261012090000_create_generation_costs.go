package migrations

import (
	"database/sql"

	"github.com/TenVexAI/saipling/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261012090000CreateGenerationCosts creates the per-generation cost table.
func Migration20261012090000CreateGenerationCosts() db.Migration {
	return db.Migration{
		Version:     20261012090000,
		Description: "Create generation_costs table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS generation_costs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					plan_id TEXT NOT NULL,
					model TEXT NOT NULL,
					input_tokens INTEGER NOT NULL DEFAULT 0,
					output_tokens INTEGER NOT NULL DEFAULT 0,
					cost REAL NOT NULL,
					created_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create generation_costs table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS generation_costs")
			return errors.Wrap(err, "failed to drop generation_costs table")
		},
	}
}
