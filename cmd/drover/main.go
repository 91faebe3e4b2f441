// Package main provides the CLI entry point for drover, an agent
// conversation runtime.
//
// drover runs a turn-by-turn conversation loop against LLM backends
// (Anthropic, OpenAI) with policy-gated tool execution, resilient
// model routing, loop detection, and context compression.
//
// # Basic Usage
//
// Start an interactive chat in the current directory:
//
//	drover chat
//
// Run a single prompt and exit:
//
//	drover run "summarize the failing tests"
//
// # Environment Variables
//
//   - DROVER_CONFIG: Path to configuration file
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "drover",
		Short: "drover - agent conversation runtime",
		Long: `drover runs agent conversations against LLM backends with
policy-gated tool execution, retry and fallback routing, loop
detection, and automatic context compression.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildRunCmd(),
		buildToolsCmd(),
	)

	return rootCmd
}
