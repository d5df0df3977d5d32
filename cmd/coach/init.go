package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/config"
	"github.com/coachhq/coach/pkg/db"
	"github.com/coachhq/coach/pkg/db/migrations"
	"github.com/coachhq/coach/pkg/presenter"
	"github.com/coachhq/coach/pkg/repoid"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the coach state directory and database",
	Long: `Creates the coach state directory, writes the default configuration
file if none exists, and applies database migrations. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		base, err := db.BaseDir()
		if err != nil {
			return err
		}

		configPath := filepath.Join(base, "config.yaml")
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}

		if err := db.RunMigrations(ctx, migrations.GetMigrations()); err != nil {
			return err
		}

		dbPath, err := db.DefaultDBPath()
		if err != nil {
			return err
		}

		rulesDir := filepath.Join(repoid.Root(ctx), ".coach")
		if err := os.MkdirAll(rulesDir, 0o755); err != nil {
			return err
		}

		presenter.Success("coach initialized")
		presenter.Info(fmt.Sprintf("  state directory: %s", base))
		presenter.Info(fmt.Sprintf("  configuration:   %s", configPath))
		presenter.Info(fmt.Sprintf("  database:        %s", dbPath))
		presenter.Info(fmt.Sprintf("  project rules:   %s", filepath.Join(rulesDir, "RULES.md")))
		return nil
	},
}
