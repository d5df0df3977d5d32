package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/aggregator"
	"github.com/coachhq/coach/pkg/presenter"
)

var (
	aggregateForce  bool
	aggregateDryRun bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Turn unprocessed events into learning candidates",
	Long: `Runs one aggregation batch for the current repository: groups
unprocessed friction events, applies evidence thresholds, and proposes
learning candidates for review. Runs inside the batch interval are skipped
unless --force is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		result, err := d.agg.Aggregate(ctx, d.repoID, aggregator.Options{
			Force:  aggregateForce,
			DryRun: aggregateDryRun,
		})
		if err != nil {
			return err
		}

		if result.Skipped {
			presenter.Info(fmt.Sprintf("skipped: %s (use --force to override)", result.SkipReason))
			return nil
		}

		presenter.Info(fmt.Sprintf("%d events examined, %d malformed", result.EventsSeen, result.Malformed))
		if aggregateDryRun {
			presenter.Info(fmt.Sprintf("%d candidates would be proposed (dry run)", result.Proposed))
			for _, c := range result.Candidates {
				presenter.Info(fmt.Sprintf("  [%s] %s (confidence %.2f, scope %s)", c.CandidateType, c.Title, c.Confidence, c.Scope))
			}
			return nil
		}

		if result.Proposed == 0 && result.Suppressed == 0 {
			presenter.Info("no new candidates")
			return nil
		}
		presenter.Success(fmt.Sprintf("%d candidates proposed, %d suppressed as already decided", result.Proposed, result.Suppressed))
		presenter.Info("run 'coach review' to see them")
		return nil
	},
}

func init() {
	aggregateCmd.Flags().BoolVar(&aggregateForce, "force", false, "Ignore the batch interval gate")
	aggregateCmd.Flags().BoolVar(&aggregateDryRun, "dry-run", false, "Compute candidates without writing anything")
}
