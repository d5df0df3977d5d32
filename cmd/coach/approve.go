package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
)

var approveCmd = &cobra.Command{
	Use:   "approve <candidate-id>",
	Short: "Approve a candidate and append it to the rules document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		approved, err := d.gw.Approve(ctx, args[0])
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("approved %s: %s", approved.ID, approved.Title))
		presenter.Info(fmt.Sprintf("applied to %s", approved.AppliedTo))
		return nil
	},
}
