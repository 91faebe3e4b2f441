package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLLMRequest("anthropic", "claude-sonnet-4-20250514", "ok", 2*time.Second)
	m.ObserveTokens("anthropic", "claude-sonnet-4-20250514", 100, 50)
	m.ObserveToolRun("read_file", "ok", 10*time.Millisecond)
	m.RouteRetries.WithLabelValues("anthropic", "rate_limit").Inc()
	m.RouteFallback.WithLabelValues("anthropic", "openai").Inc()
	m.BreakerState.WithLabelValues("anthropic", "open").Inc()
	m.Compressions.Inc()
	m.LoopsDetected.WithLabelValues("shell").Inc()

	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "ok")); got != 1 {
		t.Errorf("llm requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "output")); got != 50 {
		t.Errorf("output tokens = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.ToolRuns.WithLabelValues("read_file", "ok")); got != 1 {
		t.Errorf("tool runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Compressions); got != 1 {
		t.Errorf("compressions = %v, want 1", got)
	}
}

func TestObserveTokensSkipsZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTokens("openai", "gpt-4o", 0, 7)

	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("openai", "gpt-4o", "output")); got != 7 {
		t.Errorf("output tokens = %v, want 7", got)
	}
	// The zero input direction should not have been created.
	if n := testutil.CollectAndCount(m.LLMTokens); n != 1 {
		t.Errorf("expected 1 token series, got %d", n)
	}
}
