package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/agent/providers"
	"github.com/drover-ai/drover/internal/agent/routing"
	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/memory"
	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/internal/policy"
	"github.com/drover-ai/drover/internal/tools"
)

// appFlags holds the flags shared by the chat and run commands.
type appFlags struct {
	configPath string
	workspace  string
	mode       string
	model      string
	system     string
	maxTurns   int
	noTools    bool
	verbose    bool
}

// app bundles everything a conversation command needs.
type app struct {
	cfg     *config.Config
	runtime *agent.Runtime
	policy  *policy.Engine
	model   string
}

func buildApp(flags *appFlags) (*app, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.workspace != "" {
		cfg.Workspace.Path = flags.workspace
	}
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "."
	}
	if flags.mode != "" {
		cfg.Policy.Mode = policy.Mode(flags.mode)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if flags.maxTurns > 0 {
		cfg.Runtime.MaxTurns = flags.maxTurns
	}
	if flags.verbose {
		cfg.Logging.Level = "debug"
	}

	logger := cfg.Logging.NewLogger(os.Stderr)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	backends, err := buildBackends(cfg)
	if err != nil {
		return nil, err
	}

	breakers := routing.NewBreakerRegistry(routing.BreakerConfig{
		FailureThreshold: cfg.Router.FailureThreshold,
		ResetTimeout:     cfg.Router.ResetTimeout,
		SuccessThreshold: cfg.Router.SuccessThreshold,
	}, nil)
	var fallbackOn []providers.ErrorClass
	for _, class := range cfg.Router.FallbackOnClasses {
		fallbackOn = append(fallbackOn, providers.ErrorClass(class))
	}
	router := routing.NewRouter(backends, routing.RouterConfig{
		MaxRetries:        cfg.Router.MaxRetries,
		RetryBackoff:      cfg.Router.RetryBackoff,
		MaxRetryBackoff:   cfg.Router.MaxRetryBackoff,
		FallbackOnClasses: fallbackOn,
	}, breakers)
	router.SetLogger(logger)
	router.SetMetrics(metrics)

	registry := agent.NewToolRegistry()
	if !flags.noTools {
		toolSet := tools.All(tools.Config{Workspace: cfg.Workspace.Path}, cfg.Runtime.ToolTimeout)
		for _, tool := range toolSet {
			if err := registry.Register(tool); err != nil {
				return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
			}
		}
	}

	policyEngine := policy.NewEngine(cfg.Policy)

	opts := agent.RuntimeOptions{
		MaxTurns:        cfg.Runtime.MaxTurns,
		RunTimeout:      cfg.Runtime.RunTimeout,
		ToolParallelism: cfg.Runtime.ToolParallelism,
		ToolTimeout:     cfg.Runtime.ToolTimeout,
		ToolMaxAttempts: cfg.Runtime.ToolMaxAttempts,
		Loop: agent.LoopDetectionConfig{
			Disabled:      cfg.Loop.Disabled,
			WindowSize:    cfg.Loop.WindowSize,
			WarnThreshold: cfg.Loop.WarnThreshold,
			StopThreshold: cfg.Loop.StopThreshold,
		},
		Compression: agent.CompressionConfig{
			Disabled:       cfg.Compression.Disabled,
			TurnThreshold:  cfg.Compression.TurnThreshold,
			TokenThreshold: cfg.Compression.TokenThreshold,
			PreserveRecent: cfg.Compression.PreserveRecent,
			Model:          cfg.Compression.Model,
		},
		Approver: terminalApprover(),
		Metrics:  metrics,
		Logger:   logger,
	}

	runtime := agent.NewRuntime(router, registry, policyEngine, opts)
	if flags.system != "" {
		runtime.SetSystemPrompt(flags.system)
	}

	model := flags.model
	if model == "" {
		if p, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok {
			model = p.DefaultModel
		}
	}
	if model != "" {
		runtime.SetDefaultModel(model)
	}

	if !cfg.Memory.Disabled {
		runtime.SetMemory(&memory.Loader{
			Root:     cfg.Workspace.Path,
			FileName: cfg.Memory.FileName,
		})
	}

	return &app{cfg: cfg, runtime: runtime, policy: policyEngine, model: model}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("DROVER_CONFIG")
	}
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildBackends creates one provider per configured backend, default
// provider first so the router tries it before falling back.
func buildBackends(cfg *config.Config) ([]agent.LLMProvider, error) {
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == cfg.LLM.DefaultProvider {
			return true
		}
		if names[j] == cfg.LLM.DefaultProvider {
			return false
		}
		return names[i] < names[j]
	})

	var backends []agent.LLMProvider
	for _, name := range names {
		pc := cfg.LLM.Providers[name]
		if strings.TrimSpace(pc.APIKey) == "" {
			continue
		}
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, err
			}
			backends = append(backends, p)
		case "openai":
			p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, err
			}
			backends = append(backends, p)
		default:
			return nil, fmt.Errorf("unknown provider %q (supported: anthropic, openai)", name)
		}
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no LLM backend configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY, or add providers to the config file")
	}
	return backends, nil
}
