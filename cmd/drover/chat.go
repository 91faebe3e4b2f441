package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/policy"
)

func buildChatCmd() *cobra.Command {
	flags := &appFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation in the workspace.

The model can read and write workspace files, search with glob
patterns, and run shell commands. Tool calls are gated by the active
policy mode: reads run automatically, mutations prompt for approval
unless the mode says otherwise.

Slash commands inside the session:
  /mode <default|auto_edit|plan|yolo>  switch policy mode
  /compress                            compress older history now
  /clear                               reset the conversation
  /quit                                exit`,
		Example: `  # Chat in the current directory
  drover chat

  # Plan mode: read-only tools, no mutations
  drover chat --mode plan

  # Pin a model
  drover chat --model claude-sonnet-4-20250514`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(flags)
			if err != nil {
				return err
			}
			return runChat(cmd, app, flags)
		},
	}

	addAppFlags(cmd, flags)
	return cmd
}

func addAppFlags(cmd *cobra.Command, flags *appFlags) {
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&flags.workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "Policy mode: default, auto_edit, plan, yolo")
	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "Model to use for completions")
	cmd.Flags().StringVar(&flags.system, "system", "", "Extra system prompt text")
	cmd.Flags().IntVar(&flags.maxTurns, "max-turns", 0, "Maximum model turns per message")
	cmd.Flags().BoolVar(&flags.noTools, "no-tools", false, "Disable all tools")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Show tool results, thinking, and routing decisions")
}

func runChat(cmd *cobra.Command, app *app, flags *appFlags) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "drover %s | mode: %s | workspace: %s\n", version, app.policy.Mode(), app.cfg.Workspace.Path)
	fmt.Fprintln(out, "Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleSlashCommand(cmd, app, line)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
			if done {
				return nil
			}
			continue
		}

		render := newRenderer(out, cmd.ErrOrStderr(), flags.verbose)
		result, err := app.runtime.SendMessage(cmd.Context(), line, agent.SendOptions{
			OnActivity: render.activity(),
		})
		render.finish()

		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			continue
		}
		if result != nil && !result.Success {
			fmt.Fprintf(cmd.ErrOrStderr(), "[run ended: %s after %d turns]\n", result.TerminateReason, result.TurnCount)
			if result.TerminateReason == agent.TerminateAborted {
				return nil
			}
		}
	}
}

func handleSlashCommand(cmd *cobra.Command, app *app, line string) (done bool, err error) {
	out := cmd.OutOrStdout()
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/mode":
		if len(fields) < 2 {
			fmt.Fprintf(out, "mode: %s\n", app.policy.Mode())
			return false, nil
		}
		mode := policy.Mode(fields[1])
		switch mode {
		case policy.ModeDefault, policy.ModeAutoEdit, policy.ModePlan, policy.ModeYolo:
			app.policy.SetMode(mode)
			fmt.Fprintf(out, "mode set to %s\n", mode)
			return false, nil
		default:
			return false, fmt.Errorf("unknown mode %q", fields[1])
		}
	case "/compress":
		result, err := app.runtime.Compress(cmd.Context())
		if err != nil {
			return false, err
		}
		if result == nil || result.MessagesCompressed == 0 {
			fmt.Fprintln(out, "nothing to compress")
			return false, nil
		}
		fmt.Fprintf(out, "compressed %d messages (~%d tokens saved)\n", result.MessagesCompressed, result.TokensSaved)
		return false, nil
	case "/clear":
		app.runtime.ClearHistory()
		fmt.Fprintln(out, "conversation cleared")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}
