package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drover-ai/drover/internal/policy"
	"github.com/drover-ai/drover/pkg/models"
)

// fakeTool is a configurable in-memory tool for executor tests.
type fakeTool struct {
	name         string
	confirmation *models.Confirmation
	execute      func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	calls        atomic.Int32
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool for tests" }
func (t *fakeTool) Schema() json.RawMessage { return nil }

func (t *fakeTool) GetConfirmation(params json.RawMessage) *models.Confirmation {
	return t.confirmation
}

func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls.Add(1)
	if t.execute != nil {
		return t.execute(ctx, params)
	}
	return &ToolResult{Content: "ok:" + t.name}, nil
}

func newTestExecutor(t *testing.T, mode policy.Mode, approver ApprovalFunc, tools ...*fakeTool) *ToolExecutor {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.name, err)
		}
	}
	engine := policy.NewEngine(policy.Config{Mode: mode})
	return NewToolExecutor(registry, engine, approver, DefaultToolExecConfig())
}

func TestExecuteBatchPreservesCallOrder(t *testing.T) {
	slow := &fakeTool{name: "slow", execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &ToolResult{Content: "slow done"}, nil
	}}
	fast := &fakeTool{name: "fast"}

	exec := newTestExecutor(t, policy.ModeYolo, nil, slow, fast)

	calls := []models.ToolCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
		{ID: "c3", Name: "fast"},
	}
	results := exec.ExecuteBatch(context.Background(), calls, nil)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Result.ToolCallID != calls[i].ID {
			t.Errorf("result %d has tool call ID %q, want %q", i, r.Result.ToolCallID, calls[i].ID)
		}
	}
	if results[0].Result.Content != "slow done" {
		t.Errorf("first result = %q, want slow output", results[0].Result.Content)
	}
}

func TestExecuteBatchUnknownToolIsolated(t *testing.T) {
	good := &fakeTool{name: "good"}
	exec := newTestExecutor(t, policy.ModeYolo, nil, good)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "missing"},
		{ID: "c2", Name: "good"},
	}, nil)

	if !results[0].Result.IsError {
		t.Error("unknown tool should produce an error result")
	}
	if !strings.Contains(results[0].Result.Content, "tool not found") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
	if results[1].Result.IsError {
		t.Errorf("sibling call should succeed, got %q", results[1].Result.Content)
	}
}

func TestExecuteBatchPolicyBlocked(t *testing.T) {
	shell := &fakeTool{
		name:         "shell",
		confirmation: &models.Confirmation{Type: models.ConfirmationExecute, Message: "run command"},
	}
	exec := newTestExecutor(t, policy.ModePlan, nil, shell)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "shell"},
	}, nil)

	if !results[0].Result.IsError {
		t.Fatal("blocked call should produce an error result")
	}
	if !strings.Contains(results[0].Result.Content, "blocked by policy") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
	if shell.calls.Load() != 0 {
		t.Error("blocked tool must not execute")
	}
}

func TestExecuteBatchApprovalDeniedWithoutApprover(t *testing.T) {
	write := &fakeTool{
		name:         "write_file",
		confirmation: &models.Confirmation{Type: models.ConfirmationWrite, Message: "write file"},
	}
	exec := newTestExecutor(t, policy.ModeDefault, nil, write)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file"},
	}, nil)

	if !results[0].Result.IsError {
		t.Fatal("approval-required call without approver should fail")
	}
	if !strings.Contains(results[0].Result.Content, "approval required") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
	if write.calls.Load() != 0 {
		t.Error("unapproved tool must not execute")
	}
}

func TestExecuteBatchApproverDecides(t *testing.T) {
	write := &fakeTool{
		name:         "write_file",
		confirmation: &models.Confirmation{Type: models.ConfirmationWrite, Message: "write file"},
	}

	var asked atomic.Int32
	approve := func(ctx context.Context, req *ApprovalRequest) (bool, error) {
		asked.Add(1)
		if req.ToolName != "write_file" {
			t.Errorf("approval request for %q, want write_file", req.ToolName)
		}
		return true, nil
	}
	exec := newTestExecutor(t, policy.ModeDefault, approve, write)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_file"},
	}, nil)

	if results[0].Result.IsError {
		t.Errorf("approved call should succeed, got %q", results[0].Result.Content)
	}
	if asked.Load() != 1 {
		t.Errorf("approver called %d times, want 1", asked.Load())
	}

	deny := func(ctx context.Context, req *ApprovalRequest) (bool, error) { return false, nil }
	exec = newTestExecutor(t, policy.ModeDefault, deny, write)

	results = exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c2", Name: "write_file"},
	}, nil)

	if !results[0].Result.IsError {
		t.Fatal("rejected call should produce an error result")
	}
	if !strings.Contains(results[0].Result.Content, "rejected by user") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
}

func TestExecuteBatchPanicConverted(t *testing.T) {
	panicky := &fakeTool{name: "panicky", execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		panic("boom")
	}}
	good := &fakeTool{name: "good"}
	exec := newTestExecutor(t, policy.ModeYolo, nil, panicky, good)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "panicky"},
		{ID: "c2", Name: "good"},
	}, nil)

	if !results[0].Result.IsError {
		t.Fatal("panicking tool should produce an error result")
	}
	if !strings.Contains(results[0].Result.Content, "panic") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
	if results[1].Result.IsError {
		t.Error("sibling call should be isolated from the panic")
	}
}

func TestExecuteBatchTimeout(t *testing.T) {
	stuck := &fakeTool{name: "stuck", execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	registry := NewToolRegistry()
	if err := registry.Register(stuck); err != nil {
		t.Fatal(err)
	}
	engine := policy.NewEngine(policy.Config{Mode: policy.ModeYolo})
	exec := NewToolExecutor(registry, engine, nil, ToolExecConfig{
		Concurrency:    2,
		PerToolTimeout: 20 * time.Millisecond,
	})

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "stuck"},
	}, nil)

	if !results[0].TimedOut {
		t.Error("expected TimedOut")
	}
	if !strings.Contains(results[0].Result.Content, "timed out") {
		t.Errorf("unexpected content: %q", results[0].Result.Content)
	}
}

func TestExecuteBatchRetriesAfterTimeout(t *testing.T) {
	flaky := &fakeTool{name: "flaky"}
	flaky.execute = func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		if flaky.calls.Load() == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &ToolResult{Content: "recovered"}, nil
	}

	registry := NewToolRegistry()
	if err := registry.Register(flaky); err != nil {
		t.Fatal(err)
	}
	engine := policy.NewEngine(policy.Config{Mode: policy.ModeYolo})
	exec := NewToolExecutor(registry, engine, nil, ToolExecConfig{
		Concurrency:    2,
		PerToolTimeout: 20 * time.Millisecond,
		MaxAttempts:    2,
	})

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "flaky"},
	}, nil)

	if results[0].Result.IsError {
		t.Fatalf("expected recovery on retry, got %q", results[0].Result.Content)
	}
	if results[0].Result.Content != "recovered" {
		t.Errorf("content = %q, want recovered", results[0].Result.Content)
	}
	if flaky.calls.Load() != 2 {
		t.Errorf("tool called %d times, want 2", flaky.calls.Load())
	}
}

func TestExecuteBatchEmitsEvents(t *testing.T) {
	good := &fakeTool{name: "good"}
	exec := newTestExecutor(t, policy.ModeYolo, nil, good)

	var events []*models.AgentEvent
	emitter := NewEventEmitter("run-1", func(e *models.AgentEvent) {
		events = append(events, e)
	})

	exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "good", Input: json.RawMessage(`{}`)},
	}, emitter)

	var started, finished int
	for _, e := range events {
		switch e.Type {
		case models.AgentEventToolStarted:
			started++
		case models.AgentEventToolFinished:
			finished++
			if e.Tool == nil || !e.Tool.Success {
				t.Error("finished event should report success")
			}
		}
	}
	if started != 1 || finished != 1 {
		t.Errorf("started=%d finished=%d, want 1/1", started, finished)
	}
}
