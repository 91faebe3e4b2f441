package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/models"
)

// ApprovalRequest describes one tool call awaiting user approval.
type ApprovalRequest struct {
	ToolName     string
	CallID       string
	Params       []byte
	Confirmation *models.Confirmation
	Reason       string
}

// ApprovalFunc decides whether an approval-required tool call may proceed.
// Returning false or an error denies the call. When no ApprovalFunc is
// configured, approval-required calls are denied.
type ApprovalFunc func(ctx context.Context, req *ApprovalRequest) (bool, error)

// ActivityFunc receives runtime activity events during SendMessage.
type ActivityFunc func(event *models.AgentEvent)

// RuntimeOptions configures turn loop and tool execution behavior.
type RuntimeOptions struct {
	// MaxTurns limits model turns per SendMessage call.
	MaxTurns int

	// RunTimeout bounds wall-clock time per SendMessage call (0 = unlimited).
	RunTimeout time.Duration

	// ToolParallelism caps concurrent tool execution within a batch.
	ToolParallelism int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for retryable tool failures.
	ToolMaxAttempts int

	// ToolRetryBackoff waits between tool retry attempts.
	ToolRetryBackoff time.Duration

	// Loop configures per-session repeated-call detection.
	Loop LoopDetectionConfig

	// Compression configures context window compression.
	Compression CompressionConfig

	// Approver evaluates approval-required tool calls when set.
	Approver ApprovalFunc

	// Metrics receives runtime measurements when set.
	Metrics *observability.Metrics

	// Logger receives runtime diagnostics.
	Logger *slog.Logger
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxTurns:         25,
		RunTimeout:       10 * time.Minute,
		ToolParallelism:  4,
		ToolTimeout:      30 * time.Second,
		ToolMaxAttempts:  1,
		ToolRetryBackoff: 0,
		Loop:             DefaultLoopDetectionConfig(),
		Compression:      DefaultCompressionConfig(),
		Logger:           slog.Default(),
	}
}

func mergeRuntimeOptions(base RuntimeOptions, override RuntimeOptions) RuntimeOptions {
	merged := base
	if override.MaxTurns > 0 {
		merged.MaxTurns = override.MaxTurns
	}
	if override.RunTimeout > 0 {
		merged.RunTimeout = override.RunTimeout
	}
	if override.ToolParallelism > 0 {
		merged.ToolParallelism = override.ToolParallelism
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if override.ToolMaxAttempts > 0 {
		merged.ToolMaxAttempts = override.ToolMaxAttempts
	}
	if override.ToolRetryBackoff > 0 {
		merged.ToolRetryBackoff = override.ToolRetryBackoff
	}
	if override.Loop != (LoopDetectionConfig{}) {
		merged.Loop = override.Loop
	}
	if override.Compression != (CompressionConfig{}) {
		merged.Compression = override.Compression
	}
	if override.Approver != nil {
		merged.Approver = override.Approver
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	return merged
}

// SendOptions configure a single SendMessage invocation.
type SendOptions struct {
	// OnActivity receives activity events for this run.
	OnActivity ActivityFunc

	// MaxTurns overrides the runtime's turn limit when positive.
	MaxTurns int

	// Timeout overrides the runtime's wall-clock bound when positive.
	Timeout time.Duration
}
