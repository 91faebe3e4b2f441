package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/internal/policy"
	"github.com/drover-ai/drover/pkg/models"
)

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	// Only retryable failures (timeout, network) are retried.
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults for tool execution with
// 4 concurrent tools and 30 second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolExecutor handles concurrent tool execution. Every call is gated
// through the policy engine before it runs: blocked calls and rejected
// approvals become error results, never Go errors, so they flow back to
// the model like any other tool output.
type ToolExecutor struct {
	registry *ToolRegistry
	policy   *policy.Engine
	approver ApprovalFunc
	config   ToolExecConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewToolExecutor creates a tool executor. policyEngine is required;
// approver may be nil, in which case approval-required calls are denied.
// Default values are applied if config fields are zero.
func NewToolExecutor(registry *ToolRegistry, policyEngine *policy.Engine, approver ApprovalFunc, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{
		registry: registry,
		policy:   policyEngine,
		approver: approver,
		config:   config,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the executor's logger.
func (e *ToolExecutor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics attaches runtime metrics to the executor.
func (e *ToolExecutor) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// ToolExecResult contains the result of a tool execution including timing
// and timeout information.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// ExecuteBatch executes a batch of tool calls with concurrency limits and
// timeouts. Results are returned in the same order as the input calls.
// The emitter receives tool lifecycle events; it may be nil.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, toolCalls []models.ToolCall, emitter *EventEmitter) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	// Semaphore for concurrency limiting
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result: models.ToolResult{
						ToolCallID: call.ID,
						Content:    "context canceled",
						IsError:    true,
					},
				}
				return
			}

			results[idx] = e.executeOne(ctx, idx, call, emitter)
		}(i, tc)
	}

	wg.Wait()
	return results
}

// executeOne gates and runs a single call, with retries for retryable
// failures.
func (e *ToolExecutor) executeOne(ctx context.Context, idx int, call models.ToolCall, emitter *EventEmitter) ToolExecResult {
	startTime := time.Now()

	if emitter != nil {
		emitter.ToolStarted(call.ID, call.Name, call.Input)
	}

	result, timedOut := e.gateAndRun(ctx, call)

	endTime := time.Now()
	elapsed := endTime.Sub(startTime)

	if emitter != nil {
		emitter.ToolFinished(call.ID, call.Name, !result.IsError, previewResult(result.Content), elapsed)
	}
	if e.metrics != nil {
		status := "ok"
		if result.IsError {
			status = "error"
		}
		e.metrics.ObserveToolRun(call.Name, status, elapsed)
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    result,
		StartTime: startTime,
		EndTime:   endTime,
		TimedOut:  timedOut,
	}
}

// gateAndRun applies the policy gate and then executes with timeout and
// retry handling.
func (e *ToolExecutor) gateAndRun(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool not found: " + call.Name,
			IsError:    true,
		}, false
	}

	confirmation := tool.GetConfirmation(call.Input)
	decision := e.policy.Evaluate(policy.Request{
		ToolName:     call.Name,
		Confirmation: confirmation,
	})

	if !decision.Allowed {
		e.logger.Debug("tool call blocked by policy",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"reason", decision.Reason,
		)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "blocked by policy: " + decision.Reason,
			IsError:    true,
		}, false
	}

	if decision.RequiresApproval {
		if e.approver == nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    "approval required but no approver is configured: " + decision.Reason,
				IsError:    true,
			}, false
		}
		approved, err := e.approver(ctx, &ApprovalRequest{
			ToolName:     call.Name,
			CallID:       call.ID,
			Params:       call.Input,
			Confirmation: confirmation,
			Reason:       decision.Reason,
		})
		if err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    "approval check failed: " + err.Error(),
				IsError:    true,
			}, false
		}
		if !approved {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    "tool call rejected by user",
				IsError:    true,
			}, false
		}
	}

	var result models.ToolResult
	var timedOut bool
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		toolCtx = observability.AddToolCallID(toolCtx, call.ID)
		result, timedOut = e.runWithTimeout(toolCtx, call)
		cancel()

		if !result.IsError {
			return result, false
		}
		if !timedOut {
			// Only timeouts are worth retrying here; everything else
			// already produced a deterministic error result.
			return result, false
		}
		if attempt == e.config.MaxAttempts {
			break
		}

		e.logger.Debug("retrying tool call after timeout",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"attempt", attempt,
		)
		if e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				return models.ToolResult{
					ToolCallID: call.ID,
					Content:    "tool execution canceled",
					IsError:    true,
				}, false
			}
		}
	}
	return result, timedOut
}

// runWithTimeout executes a single tool call with timeout handling. Panics
// inside the tool are caught and converted to error results.
func (e *ToolExecutor) runWithTimeout(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewToolError(call.Name, fmt.Errorf("panic: %v", r)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				e.logger.Error("tool panicked",
					"tool", call.Name,
					"tool_call_id", call.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				select {
				case resultChan <- execResult{err: err}:
				default:
				}
			}
		}()

		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		// Non-blocking send to prevent goroutine leak when the context
		// is already done.
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			e.logger.Warn("tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", observability.GetRunID(ctx),
			)
		}
	}()

	select {
	case <-ctx.Done():
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		var content string
		if timedOut {
			content = fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout)
		} else {
			content = "tool execution canceled"
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    true,
		}, timedOut
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    res.err.Error(),
				IsError:    true,
			}, false
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.result.Content,
			IsError:    res.result.IsError,
		}, false
	}
}

const resultPreviewLimit = 200

func previewResult(content string) string {
	if len(content) <= resultPreviewLimit {
		return content
	}
	return content[:resultPreviewLimit] + "..."
}
