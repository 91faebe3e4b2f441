package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drover-ai/drover/internal/policy"
	"github.com/drover-ai/drover/pkg/models"
)

// scriptedProvider replays canned responses, one per Complete call. When
// the script runs out, the last response repeats.
type scriptedProvider struct {
	responses [][]*CompletionChunk
	calls     atomic.Int32
	lastReq   *CompletionRequest
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := int(p.calls.Add(1)) - 1
	p.lastReq = req
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	script := p.responses[idx]

	ch := make(chan *CompletionChunk, len(script)+1)
	for _, chunk := range script {
		ch <- chunk
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func textResponse(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text}}
}

func toolCallResponse(content string, calls ...models.ToolCall) []*CompletionChunk {
	chunks := []*CompletionChunk{}
	if content != "" {
		chunks = append(chunks, &CompletionChunk{Text: content})
	}
	for i := range calls {
		chunks = append(chunks, &CompletionChunk{ToolCall: &calls[i]})
	}
	return chunks
}

func newTestRuntime(t *testing.T, provider LLMProvider, opts RuntimeOptions, tools ...*fakeTool) *Runtime {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.name, err)
		}
	}
	engine := policy.NewEngine(policy.Config{Mode: policy.ModeYolo})
	return NewRuntime(provider, registry, engine, opts)
}

func TestSendMessageSimpleCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		textResponse("hello there"),
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	result, err := rt.SendMessage(context.Background(), "hi", SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.TerminateReason != TerminateComplete {
		t.Errorf("reason = %q, want complete", result.TerminateReason)
	}
	if result.Content != "hello there" {
		t.Errorf("content = %q", result.Content)
	}
	if result.TurnCount != 1 {
		t.Errorf("turns = %d, want 1", result.TurnCount)
	}

	history := rt.GetHistory()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("history roles = %q, %q", history[0].Role, history[1].Role)
	}
}

func TestSendMessageToolFlow(t *testing.T) {
	glob := &fakeTool{name: "glob", execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "main.go\nutil.go"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallResponse("let me look", models.ToolCall{ID: "c1", Name: "glob", Input: json.RawMessage(`{"pattern":"*.go"}`)}),
		textResponse("found two files"),
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{}, glob)

	result, err := rt.SendMessage(context.Background(), "list go files", SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.TerminateReason != TerminateComplete {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.TurnCount != 2 {
		t.Errorf("turns = %d, want 2", result.TurnCount)
	}
	if glob.calls.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", glob.calls.Load())
	}

	// Transcript ordering: user, assistant with calls, tool results,
	// final assistant.
	history := rt.GetHistory()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	wantRoles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}
	for i, want := range wantRoles {
		if history[i].Role != want {
			t.Errorf("history[%d].Role = %q, want %q", i, history[i].Role, want)
		}
	}
	if len(history[1].ToolCalls) != 1 {
		t.Error("assistant message should carry the tool call")
	}
	if len(history[2].ToolResults) != 1 || history[2].ToolResults[0].ToolCallID != "c1" {
		t.Error("tool message should carry the matching result")
	}
	if history[3].Content != "found two files" {
		t.Errorf("final content = %q", history[3].Content)
	}
}

func TestSendMessageMaxTurns(t *testing.T) {
	// The model keeps asking for tools and never finishes.
	call := models.ToolCall{ID: "c1", Name: "noop", Input: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallResponse("", call),
	}}
	noop := &fakeTool{name: "noop"}
	rt := newTestRuntime(t, provider, RuntimeOptions{}, noop)

	result, err := rt.SendMessage(context.Background(), "go", SendOptions{MaxTurns: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.TerminateReason != TerminateMaxTurns {
		t.Errorf("reason = %q, want max_turns", result.TerminateReason)
	}
	if result.Success {
		t.Error("max_turns termination is not a success")
	}
	if result.TurnCount != 1 {
		t.Errorf("turns = %d, want 1", result.TurnCount)
	}
}

func TestSendMessageMaxTurnsKeepsPartialContent(t *testing.T) {
	// The model narrates while calling tools; a truncated run still
	// surfaces that narration as the partial answer.
	call := models.ToolCall{ID: "c1", Name: "noop", Input: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallResponse("working on it", call),
	}}
	noop := &fakeTool{name: "noop"}
	rt := newTestRuntime(t, provider, RuntimeOptions{}, noop)

	result, err := rt.SendMessage(context.Background(), "go", SendOptions{MaxTurns: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.TerminateReason != TerminateMaxTurns {
		t.Fatalf("reason = %q, want max_turns", result.TerminateReason)
	}
	if result.Content != "working on it" {
		t.Errorf("content = %q, want the last assistant message", result.Content)
	}
}

func TestSendMessageEmptyFinalResponse(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		textResponse(""),
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	result, err := rt.SendMessage(context.Background(), "hi", SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Content != "" {
		t.Errorf("result = %+v, want empty success", result)
	}

	// No assistant message is appended for an empty final response.
	history := rt.GetHistory()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Errorf("history = %d messages, want only the user message", len(history))
	}
}

func TestSendMessageLoopDetectedStopsRun(t *testing.T) {
	danger := models.ToolCall{ID: "c1", Name: "shell", Input: json.RawMessage(`{"command":"rm -rf /"}`)}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallResponse("", danger),
	}}
	shell := &fakeTool{name: "shell"}
	rt := newTestRuntime(t, provider, RuntimeOptions{
		Loop: LoopDetectionConfig{WarnThreshold: 2, StopThreshold: 3, WindowSize: 10},
	}, shell)

	var detected int
	result, err := rt.SendMessage(context.Background(), "clean up", SendOptions{
		OnActivity: func(e *models.AgentEvent) {
			if e.Type == models.AgentEventLoopDetected {
				detected++
			}
		},
	})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("err = %v, want ErrLoopDetected", err)
	}
	if result.Success || result.TerminateReason != TerminateError {
		t.Errorf("result = %+v, want error termination", result)
	}
	// The third identical call trips the stop threshold before executing.
	if shell.calls.Load() != 2 {
		t.Errorf("tool executed %d times, want 2", shell.calls.Load())
	}
	if detected != 1 {
		t.Errorf("loop.detected events = %d, want 1", detected)
	}
}

func TestSendMessageAborted(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("x")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := rt.SendMessage(ctx, "hi", SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.TerminateReason != TerminateAborted {
		t.Errorf("reason = %q, want abort_signal", result.TerminateReason)
	}
	if result.TurnCount != 0 {
		t.Errorf("turns = %d, want 0", result.TurnCount)
	}
}

func TestSendMessageTimeout(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("x")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	result, err := rt.SendMessage(context.Background(), "hi", SendOptions{Timeout: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	if result.TerminateReason != TerminateTimeout {
		t.Errorf("reason = %q, want timeout", result.TerminateReason)
	}
}

func TestSendMessagePreTurnCompression(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		textResponse("a compact summary"), // summarization request
		textResponse("final answer"),      // the actual turn
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{
		Compression: CompressionConfig{TokenThreshold: 10, PreserveRecent: 2, TurnThreshold: 1000},
	})

	rt.AddHistory([]*models.Message{
		{ID: "m0", Role: models.RoleUser, Content: strings.Repeat("old context ", 20)},
		{ID: "m1", Role: models.RoleAssistant, Content: strings.Repeat("old reply ", 20)},
		{ID: "m2", Role: models.RoleUser, Content: "recent question"},
		{ID: "m3", Role: models.RoleAssistant, Content: "recent answer"},
	})

	var compressed int
	result, err := rt.SendMessage(context.Background(), "continue", SendOptions{
		OnActivity: func(e *models.AgentEvent) {
			if e.Type == models.AgentEventCompressed {
				compressed++
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("unexpected result %+v", result)
	}
	if compressed != 1 {
		t.Errorf("context.compressed events = %d, want 1", compressed)
	}

	history := rt.GetHistory()
	if !IsSummaryMessage(history[0]) {
		t.Error("transcript should start with the summary message after compression")
	}
	if rt.LastCompression() == nil || rt.LastCompression().Summary != "a compact summary" {
		t.Errorf("last compression = %+v", rt.LastCompression())
	}
}

type staticMemory string

func (m staticMemory) GetContent(ctx context.Context) (string, error) {
	return string(m), nil
}

func TestSendMessageMemoryPrefix(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("ok")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})
	rt.SetSystemPrompt("You are a careful assistant.")
	rt.SetMemory(staticMemory("Project uses Go 1.24."))

	if _, err := rt.SendMessage(context.Background(), "hi", SendOptions{}); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(provider.lastReq.System, "careful assistant") {
		t.Error("system prompt missing base prompt")
	}
	if !strings.Contains(provider.lastReq.System, "Go 1.24") {
		t.Error("system prompt missing memory content")
	}

	// Memory loads once; later sends reuse the cached prefix.
	if _, err := rt.SendMessage(context.Background(), "again", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(provider.lastReq.System, "Go 1.24") {
		t.Error("memory prefix should persist across sends")
	}
}

func TestSendMessageEventSequence(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("hi")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	var types []models.AgentEventType
	var lastSeq uint64
	if _, err := rt.SendMessage(context.Background(), "hello", SendOptions{
		OnActivity: func(e *models.AgentEvent) {
			types = append(types, e.Type)
			if e.Sequence <= lastSeq {
				t.Errorf("sequence not monotonic: %d after %d", e.Sequence, lastSeq)
			}
			lastSeq = e.Sequence
		},
	}); err != nil {
		t.Fatal(err)
	}

	want := []models.AgentEventType{
		models.AgentEventRunStarted,
		models.AgentEventTurnStarted,
		models.AgentEventContentChunk,
		models.AgentEventTurnFinished,
		models.AgentEventRunFinished,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

// routedProvider reports a routing decision before answering, the way the
// router chain does.
type routedProvider struct {
	scriptedProvider
	onRoute RouteFunc
}

func (p *routedProvider) SetOnRoute(fn RouteFunc) { p.onRoute = fn }

func (p *routedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.onRoute != nil {
		p.onRoute(&models.RouteEventPayload{Kind: "retry", Provider: "scripted", Attempt: 1})
	}
	return p.scriptedProvider.Complete(ctx, req)
}

func TestSendMessageSurfacesRouteEvents(t *testing.T) {
	provider := &routedProvider{scriptedProvider: scriptedProvider{
		responses: [][]*CompletionChunk{textResponse("ok")},
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	var routes []*models.RouteEventPayload
	if _, err := rt.SendMessage(context.Background(), "hi", SendOptions{
		OnActivity: func(e *models.AgentEvent) {
			if e.Type == models.AgentEventRouteChanged {
				routes = append(routes, e.Route)
			}
		},
	}); err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 || routes[0].Kind != "retry" {
		t.Fatalf("route events = %+v, want one retry", routes)
	}
	if provider.onRoute != nil {
		t.Error("route hook should be detached once the run ends")
	}
}

func TestSendMessageToolTurnEventOrder(t *testing.T) {
	// The turn only finishes once tool results are on the transcript.
	noop := &fakeTool{name: "noop"}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallResponse("", models.ToolCall{ID: "c1", Name: "noop", Input: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	rt := newTestRuntime(t, provider, RuntimeOptions{}, noop)

	var types []models.AgentEventType
	if _, err := rt.SendMessage(context.Background(), "go", SendOptions{
		OnActivity: func(e *models.AgentEvent) {
			types = append(types, e.Type)
		},
	}); err != nil {
		t.Fatal(err)
	}

	want := []models.AgentEventType{
		models.AgentEventRunStarted,
		models.AgentEventTurnStarted,
		models.AgentEventToolStarted,
		models.AgentEventToolFinished,
		models.AgentEventTurnFinished,
		models.AgentEventTurnStarted,
		models.AgentEventContentChunk,
		models.AgentEventTurnFinished,
		models.AgentEventRunFinished,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestClearHistoryResetsSession(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("hi")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{})

	if _, err := rt.SendMessage(context.Background(), "hello", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(rt.GetHistory()) == 0 {
		t.Fatal("expected history")
	}

	rt.ClearHistory()
	if len(rt.GetHistory()) != 0 {
		t.Error("history should be empty after reset")
	}
	if rt.LastCompression() != nil {
		t.Error("compression state should be cleared")
	}
}

func TestManualCompress(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textResponse("summary text")}}
	rt := newTestRuntime(t, provider, RuntimeOptions{
		Compression: CompressionConfig{PreserveRecent: 2},
	})
	rt.AddHistory(transcript(8))

	result, err := rt.Compress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.MessagesCompressed != 6 {
		t.Errorf("compressed = %d, want 6", result.MessagesCompressed)
	}
	if len(rt.GetHistory()) != 3 {
		t.Errorf("history length = %d, want 3", len(rt.GetHistory()))
	}
}
