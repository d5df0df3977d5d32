package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenConfiguresWAL(t *testing.T) {
	ctx := context.Background()

	database, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "coach.db"))
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, VerifyConfiguration(database))
}

func TestDefaultDBPathHonorsBasePath(t *testing.T) {
	base := t.TempDir()
	t.Setenv("COACH_BASE_PATH", base)

	path, err := DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "coach.db"), path)

	dir, err := BaseDir()
	require.NoError(t, err)
	assert.Equal(t, base, dir)
}

func testMigrations() []Migration {
	return []Migration{
		{
			Version:     20250101120000,
			Description: "create widgets table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE widgets (id TEXT PRIMARY KEY)")
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec("DROP TABLE widgets")
				return err
			},
		},
		{
			Version:     20250102120000,
			Description: "add widget name",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("ALTER TABLE widgets ADD COLUMN name TEXT")
				return err
			},
			Down: func(tx *sql.Tx) error {
				return nil
			},
		},
	}
}

func TestMigrationRunnerAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	database, err := Open(ctx, filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	defer database.Close()

	runner := NewMigrationRunner(database)

	// Deliberately unordered input.
	migrations := testMigrations()
	migrations[0], migrations[1] = migrations[1], migrations[0]
	require.NoError(t, runner.Run(ctx, migrations))

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20250101120000, 20250102120000}, versions)

	// Re-running applies nothing new.
	require.NoError(t, runner.Run(ctx, migrations))
	versions, err = runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestMigrationRollback(t *testing.T) {
	ctx := context.Background()
	database, err := Open(ctx, filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	defer database.Close()

	runner := NewMigrationRunner(database)
	migrations := testMigrations()
	require.NoError(t, runner.Run(ctx, migrations))

	require.NoError(t, runner.Rollback(ctx, migrations))

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20250101120000}, versions)

	// Roll back the remaining migration, then confirm an empty migration
	// table is a no-op.
	require.NoError(t, runner.Rollback(ctx, migrations))
	require.NoError(t, runner.Rollback(ctx, migrations))

	versions, err = runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
