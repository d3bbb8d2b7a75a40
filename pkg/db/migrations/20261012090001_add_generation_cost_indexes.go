package migrations

import (
	"database/sql"

	"github.com/TenVexAI/saipling/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261012090001AddGenerationCostIndexes indexes ledger lookups by model and time.
func Migration20261012090001AddGenerationCostIndexes() db.Migration {
	return db.Migration{
		Version:     20261012090001,
		Description: "Add generation_costs indexes",
		Up: func(tx *sql.Tx) error {
			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_generation_costs_model ON generation_costs(model)",
				"CREATE INDEX IF NOT EXISTS idx_generation_costs_created_at ON generation_costs(created_at)",
			}
			for _, stmt := range indexes {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to run %s", stmt)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, name := range []string{"idx_generation_costs_model", "idx_generation_costs_created_at"} {
				if _, err := tx.Exec("DROP INDEX IF EXISTS " + name); err != nil {
					return errors.Wrapf(err, "failed to drop index %s", name)
				}
			}
			return nil
		},
	}
}
