package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/coachhq/coach/pkg/hook"
)

var (
	hookPhase     string
	hookSessionID string
)

var hookCmd = &cobra.Command{
	Use:   "hook --phase pre-prompt|post-tool|session-end",
	Short: "Process a session lifecycle hook payload from stdin",
	Long: `Reads a JSON hook payload from stdin and feeds it into the signal
pipeline. Intended to be wired into an agent harness, not run by hand.
Hook failures are logged and swallowed so the host session is never broken.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := newDeps(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "failed to read hook payload")
		}

		pipeline := hook.NewPipeline(d.matcher, d.events, d.agg, d.repoID, hookSessionID)

		switch hookPhase {
		case "pre-prompt":
			var payload hook.PrePromptPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return errors.Wrap(err, "malformed pre-prompt payload")
			}
			pipeline.HandlePrePrompt(ctx, payload)
		case "post-tool":
			var payload hook.PostToolPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return errors.Wrap(err, "malformed post-tool payload")
			}
			pipeline.HandlePostTool(ctx, payload)
		case "session-end":
			var payload hook.SessionEndPayload
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &payload); err != nil {
					return errors.Wrap(err, "malformed session-end payload")
				}
			}
			pipeline.HandleSessionEnd(ctx, payload)
		default:
			return errors.Errorf("unknown hook phase %q", hookPhase)
		}
		return nil
	},
}

func init() {
	hookCmd.Flags().StringVar(&hookPhase, "phase", "", "Hook phase (pre-prompt, post-tool, session-end)")
	hookCmd.Flags().StringVar(&hookSessionID, "session-id", "", "Session identifier for recorded events")
	hookCmd.MarkFlagRequired("phase")
}
