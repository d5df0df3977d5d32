package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
)

var promoteList bool

var promoteCmd = &cobra.Command{
	Use:   "promote [candidate-id]",
	Short: "Promote a candidate to the global rules document",
	Long: `Appends a candidate to the global rules document and records the
promotion. With --list, shows ledger entries seen in enough repositories to
qualify for promotion instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if promoteList || len(args) == 0 {
			eligible, err := d.gw.PromotionCandidates(ctx, d.cfg.PromotionThresholdRepos)
			if err != nil {
				return err
			}
			if len(eligible) == 0 {
				presenter.Info("no promotion-eligible candidates")
				return nil
			}
			presenter.Section(fmt.Sprintf("Promotion eligible (seen in ≥%d repos)", d.cfg.PromotionThresholdRepos))
			for _, e := range eligible {
				presenter.Info(fmt.Sprintf("%s  repos=%d  seen=%d  %s", e.Fingerprint[:12], len(e.RepoIDs), e.SeenCount, e.NormalizedText))
			}
			return nil
		}

		promoted, err := d.gw.Promote(ctx, args[0])
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("promoted %s: %s", promoted.ID, promoted.Title))
		presenter.Info(fmt.Sprintf("applied to %s", promoted.GlobalFile))
		return nil
	},
}

func init() {
	promoteCmd.Flags().BoolVar(&promoteList, "list", false, "List promotion-eligible ledger entries")
}
