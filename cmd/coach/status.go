package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
	"github.com/coachhq/coach/pkg/signal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state for the current repository",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		unprocessed, total, err := d.events.CountsByType(ctx, d.repoID)
		if err != nil {
			return err
		}

		presenter.Section(fmt.Sprintf("Events (repo %s)", d.repoID[:8]))
		if len(total) == 0 {
			presenter.Info("none recorded")
		} else {
			types := make([]signal.SignalType, 0, len(total))
			for t := range total {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
			for _, t := range types {
				presenter.Info(fmt.Sprintf("%-18s %d total, %d awaiting aggregation", t, total[t], unprocessed[t]))
			}
		}

		pending, approved, rejected, last, err := d.props.Counts()
		if err != nil {
			return err
		}
		presenter.Section("Candidates")
		presenter.Info(fmt.Sprintf("pending %d, approved %d, rejected %d", pending, approved, rejected))
		if last != nil {
			presenter.Info(fmt.Sprintf("last proposal: %s", last.Local().Format("2006-01-02 15:04:05")))
		}

		stats, err := d.ledger.GetStats(ctx)
		if err != nil {
			return err
		}
		presenter.Section("Cross-repo ledger")
		presenter.Info(fmt.Sprintf("%d entries, %d seen in multiple repos, %d promotion-eligible, %d promoted",
			stats.Total, stats.MultiRepo, stats.PromotionEligible, stats.Promotions))

		promotions, err := d.ledger.Promotions(ctx, 5)
		if err != nil {
			return err
		}
		if len(promotions) > 0 {
			presenter.Section("Recent promotions")
			for _, p := range promotions {
				presenter.Info(fmt.Sprintf("%s  %s -> %s across %d repos on %s",
					p.Fingerprint[:12], p.FromScope, p.ToScope, p.RepoCount,
					p.PromotedAt.Local().Format("2006-01-02")))
			}
		}
		return nil
	},
}
