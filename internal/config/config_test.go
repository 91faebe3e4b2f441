package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drover-ai/drover/internal/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drover.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
workspace:
  path: /tmp/work
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Workspace.Path != "/tmp/work" {
		t.Errorf("workspace path = %q", cfg.Workspace.Path)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("default provider = %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Runtime.MaxTurns != 25 {
		t.Errorf("max turns = %d", cfg.Runtime.MaxTurns)
	}
	if cfg.Runtime.RunTimeout != 10*time.Minute {
		t.Errorf("run timeout = %v", cfg.Runtime.RunTimeout)
	}
	if cfg.Router.FailureThreshold != 3 || cfg.Router.ResetTimeout != 30*time.Second {
		t.Errorf("router defaults = %+v", cfg.Router)
	}
	if cfg.Policy.Mode != policy.ModeDefault {
		t.Errorf("policy mode = %q", cfg.Policy.Mode)
	}
	if cfg.Loop.StopThreshold != 5 || cfg.Loop.WarnThreshold != 3 {
		t.Errorf("loop defaults = %+v", cfg.Loop)
	}
	if cfg.Compression.PreserveRecent != 10 {
		t.Errorf("compression defaults = %+v", cfg.Compression)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("DROVER_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  providers:
    anthropic:
      api_key: ${DROVER_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "sk-test-123" {
		t.Errorf("api key = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
runtime:
  max_turns: 5
  tool_parallelism: 2
router:
  max_retries: 1
policy:
  mode: plan
  denylist:
    - shell
loop_detection:
  warn_threshold: 2
  stop_threshold: 4
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.MaxTurns != 5 || cfg.Runtime.ToolParallelism != 2 {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	if cfg.Router.MaxRetries != 1 {
		t.Errorf("router = %+v", cfg.Router)
	}
	if cfg.Policy.Mode != policy.ModePlan || len(cfg.Policy.Denylist) != 1 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Loop.WarnThreshold != 2 || cfg.Loop.StopThreshold != 4 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad mode", "policy:\n  mode: turbo\n", "invalid policy mode"},
		{"warn above stop", "loop_detection:\n  warn_threshold: 9\n  stop_threshold: 4\n", "warn_threshold"},
		{"bad level", "logging:\n  level: loud\n", "invalid logging level"},
		{"bad format", "logging:\n  format: xml\n", "invalid logging format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want contains %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultPicksUpEnvKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-oai")

	cfg := Default()
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-ant" {
		t.Errorf("anthropic key = %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
	if cfg.LLM.Providers["openai"].APIKey != "sk-oai" {
		t.Errorf("openai key = %q", cfg.LLM.Providers["openai"].APIKey)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	logger.Debug("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %q", buf.String())
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Errorf("entry = %v", entry)
	}

	buf.Reset()
	logger = LoggingConfig{Level: "warn"}.NewLogger(&buf)
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn not logged: %q", buf.String())
	}
}
