// Package migrations contains all database migrations for the shared coach
// database in timestamp order.
package migrations

import (
	"github.com/coachhq/coach/pkg/db"
)

// GetMigrations returns all migrations in the order they should be applied
func GetMigrations() []db.Migration {
	return []db.Migration{
		CreateEventsTable(),
		CreateLedgerTables(),
	}
}
