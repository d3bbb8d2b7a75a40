// Package migrations lists the ledger schema migrations.
package migrations

import (
	"github.com/TenVexAI/saipling/pkg/db"
)

// All returns every ledger migration. Append new ones here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261012090000CreateGenerationCosts(),
		Migration20261012090001AddGenerationCostIndexes(),
	}
}
