package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/db"
	"github.com/coachhq/coach/pkg/db/migrations"
	"github.com/coachhq/coach/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the coach database (migrations, status, etc.)`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applied, err := db.GetMigrationStatus(ctx)
		if err != nil {
			return err
		}

		appliedMap := make(map[int64]bool)
		for _, v := range applied {
			appliedMap[v] = true
		}

		dbPath, err := db.DefaultDBPath()
		if err != nil {
			return err
		}

		presenter.Section("Database migration status")
		presenter.Info(fmt.Sprintf("database: %s", dbPath))

		appliedCount := 0
		for _, m := range migrations.GetMigrations() {
			status := "[ ]"
			if appliedMap[m.Version] {
				status = "[x]"
				appliedCount++
			}
			presenter.Info(fmt.Sprintf("%s %d - %s", status, m.Version, m.Description))
		}
		presenter.Info(fmt.Sprintf("applied: %d/%d migrations", appliedCount, len(migrations.GetMigrations())))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applied, err := db.GetMigrationStatus(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			presenter.Warning("no migrations to rollback")
			return nil
		}

		if err := db.RollbackMigration(ctx, migrations.GetMigrations()); err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("rolled back migration %d", applied[len(applied)-1]))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
