// Package config loads the drover configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drover-ai/drover/internal/policy"
)

// Config is the main configuration structure for drover.
type Config struct {
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	LLM         LLMConfig         `yaml:"llm"`
	Router      RouterConfig      `yaml:"router"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Policy      policy.Config     `yaml:"policy"`
	Loop        LoopConfig        `yaml:"loop_detection"`
	Compression CompressionConfig `yaml:"compression"`
	Memory      MemoryConfig      `yaml:"memory"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	// DefaultProvider picks the primary backend when several are
	// configured.
	DefaultProvider string `yaml:"default_provider"`

	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type RouterConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff   time.Duration `yaml:"max_retry_backoff"`
	FallbackOnClasses []string      `yaml:"fallback_on_classes"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	SuccessThreshold  int           `yaml:"success_threshold"`
}

type RuntimeConfig struct {
	MaxTurns        int           `yaml:"max_turns"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	ToolParallelism int           `yaml:"tool_parallelism"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
	ToolMaxAttempts int           `yaml:"tool_max_attempts"`
}

type LoopConfig struct {
	Disabled      bool `yaml:"disabled"`
	WindowSize    int  `yaml:"window_size"`
	WarnThreshold int  `yaml:"warn_threshold"`
	StopThreshold int  `yaml:"stop_threshold"`
}

type CompressionConfig struct {
	Disabled       bool   `yaml:"disabled"`
	TurnThreshold  int    `yaml:"turn_threshold"`
	TokenThreshold int    `yaml:"token_threshold"`
	PreserveRecent int    `yaml:"preserve_recent"`
	Model          string `yaml:"model"`
}

type MemoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	FileName string `yaml:"file_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the first config file that exists: ./drover.yaml,
// then ~/.drover/config.yaml. Empty means no file was found.
func DefaultPath() string {
	if _, err := os.Stat("drover.yaml"); err == nil {
		return "drover.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".drover", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// Load reads and parses the configuration file. Environment variables
// in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and API
// keys taken from the environment.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if _, ok := cfg.LLM.Providers["anthropic"]; !ok {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.Providers["anthropic"] = LLMProviderConfig{APIKey: key}
		}
	}
	if _, ok := cfg.LLM.Providers["openai"]; !ok {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.Providers["openai"] = LLMProviderConfig{APIKey: key}
		}
	}

	if cfg.Router.MaxRetries == 0 {
		cfg.Router.MaxRetries = 2
	}
	if cfg.Router.RetryBackoff == 0 {
		cfg.Router.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Router.MaxRetryBackoff == 0 {
		cfg.Router.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.Router.FailureThreshold == 0 {
		cfg.Router.FailureThreshold = 3
	}
	if cfg.Router.ResetTimeout == 0 {
		cfg.Router.ResetTimeout = 30 * time.Second
	}
	if cfg.Router.SuccessThreshold == 0 {
		cfg.Router.SuccessThreshold = 2
	}

	if cfg.Runtime.MaxTurns == 0 {
		cfg.Runtime.MaxTurns = 25
	}
	if cfg.Runtime.RunTimeout == 0 {
		cfg.Runtime.RunTimeout = 10 * time.Minute
	}
	if cfg.Runtime.ToolParallelism == 0 {
		cfg.Runtime.ToolParallelism = 4
	}
	if cfg.Runtime.ToolTimeout == 0 {
		cfg.Runtime.ToolTimeout = 30 * time.Second
	}
	if cfg.Runtime.ToolMaxAttempts == 0 {
		cfg.Runtime.ToolMaxAttempts = 1
	}

	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = policy.ModeDefault
	}

	if cfg.Loop.WindowSize == 0 {
		cfg.Loop.WindowSize = 20
	}
	if cfg.Loop.WarnThreshold == 0 {
		cfg.Loop.WarnThreshold = 3
	}
	if cfg.Loop.StopThreshold == 0 {
		cfg.Loop.StopThreshold = 5
	}

	if cfg.Compression.TurnThreshold == 0 {
		cfg.Compression.TurnThreshold = 30
	}
	if cfg.Compression.TokenThreshold == 0 {
		cfg.Compression.TokenThreshold = 100_000
	}
	if cfg.Compression.PreserveRecent == 0 {
		cfg.Compression.PreserveRecent = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Policy.Mode {
	case policy.ModeDefault, policy.ModeAutoEdit, policy.ModePlan, policy.ModeYolo:
	default:
		return fmt.Errorf("invalid policy mode %q", c.Policy.Mode)
	}
	if c.Loop.WarnThreshold > c.Loop.StopThreshold {
		return fmt.Errorf("loop_detection.warn_threshold (%d) exceeds stop_threshold (%d)",
			c.Loop.WarnThreshold, c.Loop.StopThreshold)
	}
	if c.Compression.PreserveRecent < 0 {
		return fmt.Errorf("compression.preserve_recent must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	return nil
}
