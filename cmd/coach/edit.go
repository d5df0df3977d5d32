package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/presenter"
	"github.com/coachhq/coach/pkg/proposals"
)

var (
	editTitle   string
	editTrigger string
	editAction  string
	editType    string
)

var editCmd = &cobra.Command{
	Use:   "edit <candidate-id>",
	Short: "Edit a pending candidate before deciding on it",
	Long: `Updates the title, trigger, action, or type of a pending candidate.
Editing the trigger, action, or type recomputes the fingerprint so future
observations of the edited form deduplicate correctly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		updates := proposals.FieldUpdates{}
		if cmd.Flags().Changed("title") {
			updates.Title = &editTitle
		}
		if cmd.Flags().Changed("trigger") {
			updates.Trigger = &editTrigger
		}
		if cmd.Flags().Changed("action") {
			updates.Action = &editAction
		}
		if cmd.Flags().Changed("type") {
			updates.CandidateType = &editType
		}
		if updates.Title == nil && updates.Trigger == nil && updates.Action == nil && updates.CandidateType == nil {
			return errors.New("nothing to edit, pass --title, --trigger, --action, or --type")
		}

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		edited, err := d.gw.Edit(ctx, args[0], updates)
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("edited %s: %s", edited.ID, edited.Title))
		return nil
	},
}

func init() {
	editCmd.Flags().StringVar(&editTitle, "title", "", "New title")
	editCmd.Flags().StringVar(&editTrigger, "trigger", "", "New trigger text")
	editCmd.Flags().StringVar(&editAction, "action", "", "New action text")
	editCmd.Flags().StringVar(&editType, "type", "", "New candidate type (rule, snippet, checklist, antipattern, skill)")
}
