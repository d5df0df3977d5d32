package migrations

import (
	"database/sql"

	"github.com/coachhq/coach/pkg/db"
	"github.com/pkg/errors"
)

// CreateEventsTable creates the friction event store.
// Events are append-only; processed is flipped by the aggregator only after
// the derived candidates have been durably written.
func CreateEventsTable() db.Migration {
	return db.Migration{
		Version:     20250115090000,
		Description: "Create events table for friction signal storage",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					timestamp TEXT NOT NULL,
					phase TEXT NOT NULL,
					signal_type TEXT NOT NULL,
					repo_id TEXT NOT NULL,
					content TEXT NOT NULL,
					context TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL DEFAULT '',
					processed INTEGER NOT NULL DEFAULT 0
				)
			`)
			if err != nil {
				return errors.Wrap(err, "failed to create events table")
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed)",
				"CREATE INDEX IF NOT EXISTS idx_events_repo_id ON events(repo_id)",
				"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_events_signal_type ON events(signal_type)",
			}
			for _, idx := range indexes {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrap(err, "failed to create events index")
				}
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS events")
			return errors.Wrap(err, "failed to drop events table")
		},
	}
}
