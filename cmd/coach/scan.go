package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
	"github.com/coachhq/coach/pkg/scanner"
	"github.com/coachhq/coach/pkg/signal"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Check installed tool versions against project minimums",
	Long: `Probes known CLI tools against the minimum version table. Outdated
tools are recorded as version-issue events so the next aggregation batch can
propose an upgrade rule.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		findings := scanner.New().Scan(ctx)

		presenter.Section("Tool versions")
		outdated := 0
		for _, f := range findings {
			switch {
			case !f.Installed:
				presenter.Info(fmt.Sprintf("%-10s not installed (minimum %s)", f.Tool, f.MinVersion))
			case f.Version == "":
				presenter.Info(fmt.Sprintf("%-10s installed, version unknown (minimum %s)", f.Tool, f.MinVersion))
			case f.Outdated:
				presenter.Warning(fmt.Sprintf("%-10s %s is below minimum %s", f.Tool, f.Version, f.MinVersion))
				outdated++

				_, err := d.events.AppendSignal(ctx, signal.PhasePostTool, d.repoID, "", signal.Signal{
					Type:       signal.VersionIssue,
					Command:    f.Tool,
					Stderr:     fmt.Sprintf("%s %s is below the minimum version %s, upgrade required", f.Tool, f.Version, f.MinVersion),
					Confidence: 0.6,
				})
				if err != nil {
					return err
				}
			default:
				presenter.Info(fmt.Sprintf("%-10s %s (minimum %s)", f.Tool, f.Version, f.MinVersion))
			}
		}

		if outdated > 0 {
			presenter.Warning(fmt.Sprintf("%d tools below minimum version, recorded for the next aggregation batch", outdated))
		} else {
			presenter.Success("all installed tools meet minimum versions")
		}
		return nil
	},
}
