package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/internal/policy"
	"github.com/drover-ai/drover/pkg/models"
	"github.com/google/uuid"
)

// TerminateReason explains why SendMessage stopped.
type TerminateReason string

const (
	// TerminateComplete means the model produced a final answer.
	TerminateComplete TerminateReason = "complete"

	// TerminateMaxTurns means the turn limit was exhausted.
	TerminateMaxTurns TerminateReason = "max_turns"

	// TerminateTimeout means the wall-clock budget was exhausted.
	TerminateTimeout TerminateReason = "timeout"

	// TerminateAborted means the caller canceled the run.
	TerminateAborted TerminateReason = "abort_signal"

	// TerminateError means the run failed (backend error or loop stop).
	TerminateError TerminateReason = "error"
)

// SendResult is the outcome of one SendMessage call.
type SendResult struct {
	// Success is true only when the run completed normally.
	Success bool

	// Content is the model's final (or partial) answer text.
	Content string

	// TurnCount is how many model turns this run consumed.
	TurnCount int

	// TerminateReason explains why the run stopped.
	TerminateReason TerminateReason
}

// MemoryProvider supplies project context merged into the system prompt
// once per session.
type MemoryProvider interface {
	GetContent(ctx context.Context) (string, error)
}

// Runtime drives the turn-by-turn conversation loop for one session: it
// streams model output, dispatches tool calls through the policy-gated
// executor, watches for repetition, and compresses the transcript when it
// grows. Session state is owned exclusively by this instance; concurrent
// SendMessage calls on the same Runtime are not supported.
type Runtime struct {
	provider   LLMProvider
	registry   *ToolRegistry
	executor   *ToolExecutor
	compressor *Compressor
	loop       *LoopDetector
	memory     MemoryProvider
	options    RuntimeOptions

	sessionID    string
	systemPrompt string
	defaultModel string

	// Session state, mutated only by SendMessage and the history methods.
	transcript      []*models.Message
	turnCount       int
	lastCompression *CompressionResult
	memoryPrefix    string
	memoryLoaded    bool
}

// NewRuntime creates a runtime for one conversation session. provider is
// typically a Router; opts fields left zero fall back to defaults.
func NewRuntime(provider LLMProvider, registry *ToolRegistry, policyEngine *policy.Engine, opts RuntimeOptions) *Runtime {
	merged := mergeRuntimeOptions(DefaultRuntimeOptions(), opts)

	executor := NewToolExecutor(registry, policyEngine, merged.Approver, ToolExecConfig{
		Concurrency:    merged.ToolParallelism,
		PerToolTimeout: merged.ToolTimeout,
		MaxAttempts:    merged.ToolMaxAttempts,
		RetryBackoff:   merged.ToolRetryBackoff,
	})
	executor.SetLogger(merged.Logger)
	executor.SetMetrics(merged.Metrics)

	return &Runtime{
		provider:   provider,
		registry:   registry,
		executor:   executor,
		compressor: NewCompressor(provider, merged.Compression, merged.Logger),
		loop:       NewLoopDetector(merged.Loop),
		options:    merged,
		sessionID:  uuid.NewString(),
	}
}

// SetSystemPrompt sets the base system prompt for the session.
func (r *Runtime) SetSystemPrompt(prompt string) {
	r.systemPrompt = prompt
}

// SetDefaultModel sets the model requested from the backend. Empty means
// the backend's own default.
func (r *Runtime) SetDefaultModel(model string) {
	r.defaultModel = model
}

// SetMemory attaches a memory provider. Its content is loaded lazily on
// the first SendMessage and merged into the system prompt.
func (r *Runtime) SetMemory(m MemoryProvider) {
	r.memory = m
}

// SessionID returns the session identity.
func (r *Runtime) SessionID() string {
	return r.sessionID
}

// GetHistory returns a copy of the transcript.
func (r *Runtime) GetHistory() []*models.Message {
	out := make([]*models.Message, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// AddHistory appends previously exported messages, for session restore.
// Messages are treated as opaque; no validation or reordering happens.
func (r *Runtime) AddHistory(msgs []*models.Message) {
	r.transcript = append(r.transcript, msgs...)
}

// ClearHistory resets the session state.
func (r *Runtime) ClearHistory() {
	r.transcript = nil
	r.turnCount = 0
	r.lastCompression = nil
	r.loop.Reset()
}

// LastCompression returns the most recent compression result, if any.
func (r *Runtime) LastCompression() *CompressionResult {
	return r.lastCompression
}

// Compress forces a compression pass regardless of thresholds.
func (r *Runtime) Compress(ctx context.Context) (*CompressionResult, error) {
	result, err := r.compressor.Compress(ctx, r.sessionID, r.transcript)
	if err != nil {
		return nil, err
	}
	r.transcript = result.Messages
	if result.MessagesCompressed > 0 {
		r.lastCompression = result
	}
	return result, nil
}

// SendMessage runs the turn loop for one user message. Resource-limit
// terminations (max_turns, timeout, abort_signal) return partial results
// with a nil error; backend failures and loop stops return an error
// alongside a result with TerminateReason "error".
func (r *Runtime) SendMessage(ctx context.Context, text string, opts SendOptions) (*SendResult, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}

	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	ctx = observability.AddSessionID(ctx, r.sessionID)

	emitter := NewEventEmitter(runID, opts.OnActivity)
	emitter.RunStarted()
	defer emitter.RunFinished()

	// Routing decisions surface in the same event stream as everything
	// else for the duration of this run.
	if ro, ok := r.provider.(RouteObservable); ok {
		ro.SetOnRoute(emitter.RouteChanged)
		defer ro.SetOnRoute(nil)
	}

	maxTurns := r.options.MaxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}
	timeout := r.options.RunTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	start := time.Now()

	r.initMemory(ctx)
	r.maybeCompress(ctx, emitter)

	r.transcript = append(r.transcript, &models.Message{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})

	result := &SendResult{TerminateReason: TerminateMaxTurns}

	for result.TurnCount < maxTurns {
		// Cancellation and timeout are checked once per turn boundary;
		// in-flight calls are allowed to finish.
		if err := ctx.Err(); err != nil {
			result.TerminateReason = TerminateAborted
			result.Content = r.lastAssistantContent()
			return result, nil
		}
		if timeout > 0 && time.Since(start) >= timeout {
			result.TerminateReason = TerminateTimeout
			result.Content = r.lastAssistantContent()
			return result, nil
		}

		emitter.SetTurn(result.TurnCount)
		emitter.TurnStarted()

		content, toolCalls, err := r.streamTurn(ctx, emitter)
		if err != nil {
			turnErr := &TurnError{Phase: PhaseStream, Turn: result.TurnCount, Cause: err}
			emitter.Error(turnErr, false)
			result.TerminateReason = TerminateError
			return result, turnErr
		}

		result.TurnCount++
		r.turnCount++

		if len(toolCalls) == 0 {
			// Final answer; an empty response leaves no message behind.
			if content != "" {
				r.transcript = append(r.transcript, &models.Message{
					ID:        uuid.NewString(),
					SessionID: r.sessionID,
					Role:      models.RoleAssistant,
					Content:   content,
					CreatedAt: time.Now(),
				})
			}
			result.Success = true
			result.Content = content
			result.TerminateReason = TerminateComplete
			emitter.TurnFinished()
			return result, nil
		}

		// Content streamed alongside tool calls stays attached to the
		// assistant message.
		r.transcript = append(r.transcript, &models.Message{
			ID:        uuid.NewString(),
			SessionID: r.sessionID,
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		})

		// Loop detection is a pre-pass over the whole batch: the first
		// stop aborts the run before anything in the batch executes.
		if err := r.checkLoops(toolCalls, emitter); err != nil {
			result.TerminateReason = TerminateError
			return result, err
		}

		execResults := r.executor.ExecuteBatch(ctx, toolCalls, emitter)

		toolResults := make([]models.ToolResult, len(execResults))
		for i, er := range execResults {
			toolResults[i] = er.Result
		}
		r.transcript = append(r.transcript, &models.Message{
			ID:          uuid.NewString(),
			SessionID:   r.sessionID,
			Role:        models.RoleTool,
			ToolResults: toolResults,
			CreatedAt:   time.Now(),
		})
		emitter.TurnFinished()
	}

	result.Content = r.lastAssistantContent()
	return result, nil
}

// lastAssistantContent is the partial result content for resource-limit
// exits: whatever the model last said.
func (r *Runtime) lastAssistantContent() string {
	for i := len(r.transcript) - 1; i >= 0; i-- {
		if r.transcript[i].Role == models.RoleAssistant {
			return r.transcript[i].Content
		}
	}
	return ""
}

// initMemory loads project memory on first use and folds it into the
// system prompt prefix. Failures are logged, never fatal.
func (r *Runtime) initMemory(ctx context.Context) {
	if r.memoryLoaded || r.memory == nil {
		return
	}
	r.memoryLoaded = true

	content, err := r.memory.GetContent(ctx)
	if err != nil {
		r.options.Logger.Warn("loading project memory failed",
			"session_id", r.sessionID,
			"error", err,
		)
		return
	}
	r.memoryPrefix = strings.TrimSpace(content)
}

// maybeCompress runs a best-effort compression pass before the turn loop.
// Failures are logged at Warn and the turn proceeds uncompressed.
func (r *Runtime) maybeCompress(ctx context.Context, emitter *EventEmitter) {
	if !r.compressor.ShouldCompress(r.transcript, r.turnCount) {
		return
	}

	result, err := r.compressor.Compress(ctx, r.sessionID, r.transcript)
	if err != nil {
		r.options.Logger.Warn("context compression failed, proceeding uncompressed",
			"session_id", r.sessionID,
			"error", err,
		)
		return
	}
	if result.MessagesCompressed == 0 {
		return
	}

	r.transcript = result.Messages
	r.lastCompression = result
	emitter.Compressed()
	if r.options.Metrics != nil {
		r.options.Metrics.Compressions.Inc()
	}
	r.options.Logger.Debug("compressed context",
		"session_id", r.sessionID,
		"messages_compressed", result.MessagesCompressed,
		"tokens_saved", result.TokensSaved,
	)
}

// streamTurn issues one completion request and accumulates the streamed
// response into final text and tool calls.
func (r *Runtime) streamTurn(ctx context.Context, emitter *EventEmitter) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:    r.defaultModel,
		System:   r.buildSystemPrompt(),
		Messages: r.completionMessages(),
		Tools:    r.registry.AsLLMTools(),
	}

	started := time.Now()
	completion, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var textBuilder strings.Builder
	var toolCalls []models.ToolCall
	var inputTokens, outputTokens int

	for chunk := range completion {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Thinking != "" {
			emitter.Thinking(chunk.Thinking)
		}
		if chunk.Text != "" {
			textBuilder.WriteString(chunk.Text)
			emitter.ContentChunk(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}
		if chunk.Done {
			break
		}
	}

	if r.options.Metrics != nil {
		r.options.Metrics.ObserveLLMRequest(r.provider.Name(), r.defaultModel, "ok", time.Since(started))
		r.options.Metrics.ObserveTokens(r.provider.Name(), r.defaultModel, inputTokens, outputTokens)
	}

	return textBuilder.String(), toolCalls, nil
}

// checkLoops runs the loop detector over the whole batch before execution.
func (r *Runtime) checkLoops(toolCalls []models.ToolCall, emitter *EventEmitter) error {
	for _, tc := range toolCalls {
		check := r.loop.Check(tc, r.turnCount)
		if check.ShouldStop {
			emitter.LoopDetected(tc.Name, check.Fingerprint, check.Count, check.Suggestion)
			if r.options.Metrics != nil {
				r.options.Metrics.LoopsDetected.WithLabelValues(tc.Name).Inc()
			}
			return fmt.Errorf("%w: %s", ErrLoopDetected, check.Suggestion)
		}
		if check.ShouldWarn {
			emitter.LoopWarning(tc.Name, check.Fingerprint, check.Count, check.Suggestion)
		}
	}
	return nil
}

func (r *Runtime) buildSystemPrompt() string {
	if r.memoryPrefix == "" {
		return r.systemPrompt
	}
	if r.systemPrompt == "" {
		return r.memoryPrefix
	}
	return r.systemPrompt + "\n\n" + r.memoryPrefix
}

func (r *Runtime) completionMessages() []CompletionMessage {
	msgs := make([]CompletionMessage, 0, len(r.transcript))
	for _, m := range r.transcript {
		msgs = append(msgs, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return msgs
}
