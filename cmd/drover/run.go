package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/agent"
)

func buildRunCmd() *cobra.Command {
	flags := &appFlags{}

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run a single prompt and exit",
		Long: `Run one conversation turn loop for the given prompt and print the
final answer. Exits nonzero if the run fails or ends without
completing.`,
		Example: `  # One-shot question
  drover run "what does internal/agent/router.go do?"

  # Let the model edit files without prompting
  drover run --mode auto_edit "fix the typo in README.md"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(flags)
			if err != nil {
				return err
			}
			return runOnce(cmd, app, flags, strings.Join(args, " "))
		},
	}

	addAppFlags(cmd, flags)
	return cmd
}

func runOnce(cmd *cobra.Command, app *app, flags *appFlags, prompt string) error {
	render := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), flags.verbose)
	result, err := app.runtime.SendMessage(cmd.Context(), prompt, agent.SendOptions{
		OnActivity: render.activity(),
	})
	render.finish()
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run ended without completing: %s after %d turns", result.TerminateReason, result.TurnCount)
	}
	return nil
}
