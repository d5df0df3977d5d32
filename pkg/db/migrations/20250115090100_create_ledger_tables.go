package migrations

import (
	"database/sql"

	"github.com/coachhq/coach/pkg/db"
	"github.com/pkg/errors"
)

// CreateLedgerTables creates the cross-repo candidate ledger and the
// promotions audit table. Ledger rows are keyed by fingerprint; the revision
// column backs optimistic concurrency for concurrent aggregation runs.
func CreateLedgerTables() db.Migration {
	return db.Migration{
		Version:     20250115090100,
		Description: "Create ledger candidates and promotions tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS candidates (
					fingerprint TEXT PRIMARY KEY,
					normalized_text TEXT NOT NULL,
					candidate_type TEXT NOT NULL,
					current_scope TEXT NOT NULL,
					repo_ids TEXT NOT NULL DEFAULT '[]',
					seen_count INTEGER NOT NULL DEFAULT 1,
					status TEXT NOT NULL DEFAULT 'pending',
					first_seen TEXT NOT NULL,
					last_seen TEXT NOT NULL,
					revision INTEGER NOT NULL DEFAULT 1
				)
			`)
			if err != nil {
				return errors.Wrap(err, "failed to create candidates table")
			}

			_, err = tx.Exec(`
				CREATE TABLE IF NOT EXISTS promotions (
					id TEXT PRIMARY KEY,
					fingerprint TEXT NOT NULL,
					promoted_at TEXT NOT NULL,
					from_scope TEXT NOT NULL,
					to_scope TEXT NOT NULL,
					repo_count INTEGER NOT NULL,
					FOREIGN KEY (fingerprint) REFERENCES candidates(fingerprint)
				)
			`)
			if err != nil {
				return errors.Wrap(err, "failed to create promotions table")
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status)",
				"CREATE INDEX IF NOT EXISTS idx_candidates_scope ON candidates(current_scope)",
				"CREATE INDEX IF NOT EXISTS idx_promotions_fingerprint ON promotions(fingerprint)",
			}
			for _, idx := range indexes {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrap(err, "failed to create ledger index")
				}
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS promotions"); err != nil {
				return errors.Wrap(err, "failed to drop promotions table")
			}
			_, err := tx.Exec("DROP TABLE IF EXISTS candidates")
			return errors.Wrap(err, "failed to drop candidates table")
		},
	}
}
