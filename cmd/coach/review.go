package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
	"github.com/coachhq/coach/pkg/proposals"
)

var reviewCmd = &cobra.Command{
	Use:   "review [candidate-id]",
	Short: "List pending candidates or inspect one in detail",
	Long: `Without arguments, lists every pending learning candidate. With a
candidate id (or unique prefix), shows its evidence and the rules document
diff that approving it would produce.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if len(args) == 1 {
			return reviewOne(d, args[0])
		}
		return reviewList(d)
	},
}

func reviewList(d *deps) error {
	pending, err := d.props.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		presenter.Info("no pending candidates")
		return nil
	}

	presenter.Section(fmt.Sprintf("Pending candidates (%d)", len(pending)))
	for _, c := range pending {
		flags := ""
		if len(c.ReviewFlags) > 0 {
			flags = " ⚑"
		}
		presenter.Info(fmt.Sprintf("%s  [%s/%s]  %.2f  %s%s", c.ID, c.CandidateType, c.Scope, c.Confidence, c.Title, flags))
	}
	presenter.Separator()
	presenter.Info("coach review <id> for details, coach approve/reject/edit <id> to decide")
	return nil
}

func reviewOne(d *deps, idPrefix string) error {
	cand, diff, err := d.gw.Preview(idPrefix)
	if err != nil {
		return err
	}

	presenter.Section(fmt.Sprintf("%s  %s", cand.ID, cand.Title))
	presenter.Info(fmt.Sprintf("type:       %s", cand.CandidateType))
	presenter.Info(fmt.Sprintf("scope:      %s", cand.Scope))
	presenter.Info(fmt.Sprintf("confidence: %.2f", cand.Confidence))
	presenter.Info(fmt.Sprintf("trigger:    %s", cand.Trigger))
	presenter.Info(fmt.Sprintf("action:     %s", cand.Action))

	if len(cand.ReviewFlags) > 0 {
		presenter.Warning("review flags: " + strings.Join(cand.ReviewFlags, "; "))
	}

	if len(cand.Evidence) > 0 {
		presenter.Separator()
		presenter.Info(fmt.Sprintf("evidence (%d):", len(cand.Evidence)))
		for _, e := range cand.Evidence {
			printEvidence(e)
		}
	}

	if diff != "" {
		presenter.Separator()
		presenter.Info("approval would apply:")
		presenter.Info(diff)
	}
	return nil
}

func printEvidence(e proposals.Evidence) {
	switch {
	case e.Command != "":
		presenter.Info(fmt.Sprintf("  $ %s", e.Command))
		if e.Stderr != "" {
			presenter.Info(fmt.Sprintf("    %s", firstLine(e.Stderr)))
		}
	case e.Quote != "":
		presenter.Info(fmt.Sprintf("  %q", firstLine(e.Quote)))
	default:
		presenter.Info(fmt.Sprintf("  event %s", e.EventID))
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
