package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
)

var rejectReason string

var rejectCmd = &cobra.Command{
	Use:   "reject <candidate-id>",
	Short: "Reject a candidate so it is never proposed again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		rejected, err := d.gw.Reject(ctx, args[0], rejectReason)
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("rejected %s: %s", rejected.ID, rejected.Title))
		return nil
	},
}

func init() {
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the candidate was rejected")
}
