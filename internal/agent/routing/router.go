// Package routing sends completion requests across an ordered list of LLM
// backends with retry, class-based fallback, and per-backend circuit
// breaking.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/agent/providers"
	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/models"
)

// RouterConfig configures retry and fallback behavior across backends.
type RouterConfig struct {
	// MaxRetries is the maximum retry count per backend for retryable
	// failures. Default: 2.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5 seconds.
	MaxRetryBackoff time.Duration

	// FallbackOnClasses lists the error classes that may consume a
	// fallback backend. Any other class propagates to the caller once
	// its retries are exhausted. Nil means DefaultFallbackClasses.
	FallbackOnClasses []providers.ErrorClass
}

// DefaultRouterConfig returns sensible routing defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxRetries:        2,
		RetryBackoff:      100 * time.Millisecond,
		MaxRetryBackoff:   5 * time.Second,
		FallbackOnClasses: DefaultFallbackClasses(),
	}
}

// DefaultFallbackClasses returns the error classes that consume a fallback
// backend by default: account-level failures that no retry will fix, plus
// transient classes once their retries are exhausted.
func DefaultFallbackClasses() []providers.ErrorClass {
	return []providers.ErrorClass{
		providers.ClassBilling,
		providers.ClassAuth,
		providers.ClassModelUnavailable,
		providers.ClassRateLimit,
		providers.ClassTimeout,
		providers.ClassServerError,
	}
}

// RouteFunc observes routing decisions. It must not block: events describe
// decisions already taken and never alter control flow.
type RouteFunc = agent.RouteFunc

var (
	_ agent.LLMProvider     = (*Router)(nil)
	_ agent.RouteObservable = (*Router)(nil)
)

// Router sends completion requests to an ordered list of backends with
// retry, class-based fallback, and circuit breaking. It implements
// agent.LLMProvider so it is a drop-in backend for the runtime and
// compressor.
type Router struct {
	mu         sync.RWMutex
	backends   []agent.LLMProvider
	config     RouterConfig
	fallbackOn map[providers.ErrorClass]bool
	breakers   *BreakerRegistry
	onRoute    RouteFunc
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewRouter creates a router over the given backends, tried in order.
// The breaker registry may be shared across routers; passing nil creates
// a private one with default thresholds.
func NewRouter(backends []agent.LLMProvider, config RouterConfig, breakers *BreakerRegistry) *Router {
	defaults := DefaultRouterConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if config.FallbackOnClasses == nil {
		config.FallbackOnClasses = defaults.FallbackOnClasses
	}
	fallbackOn := make(map[providers.ErrorClass]bool, len(config.FallbackOnClasses))
	for _, class := range config.FallbackOnClasses {
		fallbackOn[class] = true
	}
	if breakers == nil {
		breakers = NewBreakerRegistry(BreakerConfig{}, nil)
	}
	return &Router{
		backends:   backends,
		config:     config,
		fallbackOn: fallbackOn,
		breakers:   breakers,
		logger:     slog.Default(),
	}
}

// SetOnRoute installs the routing event hook.
func (r *Router) SetOnRoute(fn RouteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRoute = fn
}

// SetLogger replaces the router's logger.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetMetrics attaches runtime metrics.
func (r *Router) SetMetrics(m *observability.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// AddBackend appends a fallback backend.
func (r *Router) AddBackend(p agent.LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, p)
}

func (r *Router) emit(route *models.RouteEventPayload) {
	r.mu.RLock()
	fn := r.onRoute
	r.mu.RUnlock()
	if fn != nil {
		fn(route)
	}
}

// classOf prefers the class a backend attached to the error over string
// heuristics; raw errors from non-conforming backends still classify.
func classOf(err error) providers.ErrorClass {
	if be, ok := providers.GetBackendError(err); ok {
		return be.Class
	}
	return providers.Classify(err)
}

// Complete implements agent.LLMProvider. Backends are tried in order;
// retryable failures are retried with exponential backoff on the same
// backend, then fall through to the next one when the error class is in
// FallbackOnClasses. Anything else aborts immediately without consuming
// further backends.
func (r *Router) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	r.mu.RLock()
	backends := make([]agent.LLMProvider, len(r.backends))
	copy(backends, r.backends)
	logger := r.logger
	metrics := r.metrics
	r.mu.RUnlock()

	if len(backends) == 0 {
		return nil, agent.ErrNoProvider
	}

	var lastErr error

	for i, backend := range backends {
		name := backend.Name()
		breaker := r.breakers.For(name)

		if !breaker.Allow() {
			r.emit(&models.RouteEventPayload{
				Kind:     "circuit_open",
				Provider: name,
				Model:    req.Model,
			})
			logger.Debug("skipping backend with open circuit", "provider", name)
			continue
		}

		ch, err := r.tryBackend(ctx, backend, breaker, req, logger, metrics)
		if err == nil {
			breaker.RecordSuccess()
			r.emit(&models.RouteEventPayload{
				Kind:     "success",
				Provider: name,
				Model:    req.Model,
			})
			if metrics != nil {
				metrics.LLMRequests.WithLabelValues(name, req.Model, "success").Inc()
			}
			return ch, nil
		}

		lastErr = err
		if metrics != nil {
			metrics.LLMRequests.WithLabelValues(name, req.Model, "error").Inc()
		}

		class := classOf(err)
		if r.fallbackOn[class] && i < len(backends)-1 {
			next := backends[i+1].Name()
			r.emit(&models.RouteEventPayload{
				Kind:     "fallback",
				Provider: name,
				Model:    req.Model,
				From:     name,
				To:       next,
				Reason:   string(class),
			})
			if metrics != nil {
				metrics.RouteFallback.WithLabelValues(name, next).Inc()
			}
			logger.Warn("falling back to next backend",
				"from", name,
				"to", next,
				"class", string(class),
				"error", err,
			)
			continue
		}

		r.emit(&models.RouteEventPayload{
			Kind:     "failure",
			Provider: name,
			Model:    req.Model,
			Reason:   string(class),
		})
		return nil, err
	}

	if lastErr == nil {
		r.emit(&models.RouteEventPayload{
			Kind:   "failure",
			Model:  req.Model,
			Reason: "circuit_open",
		})
		return nil, fmt.Errorf("%w: all circuits open", agent.ErrNoProvider)
	}
	r.emit(&models.RouteEventPayload{
		Kind:   "failure",
		Model:  req.Model,
		Reason: string(classOf(lastErr)),
	})
	return nil, lastErr
}

// tryBackend attempts one backend with retries and exponential backoff.
// Every failed attempt counts against the backend's breaker.
func (r *Router) tryBackend(ctx context.Context, backend agent.LLMProvider, breaker *Breaker, req *agent.CompletionRequest, logger *slog.Logger, metrics *observability.Metrics) (<-chan *agent.CompletionChunk, error) {
	var lastErr error
	backoff := r.config.RetryBackoff
	name := backend.Name()

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		ch, err := backend.Complete(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		breaker.RecordFailure()

		class := classOf(err)
		if !class.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= r.config.MaxRetries {
			break
		}

		r.emit(&models.RouteEventPayload{
			Kind:     "retry",
			Provider: name,
			Model:    req.Model,
			Attempt:  attempt + 1,
			Reason:   string(class),
		})
		if metrics != nil {
			metrics.RouteRetries.WithLabelValues(name, string(class)).Inc()
		}
		logger.Debug("retrying backend",
			"provider", name,
			"attempt", attempt+1,
			"class", string(class),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > r.config.MaxRetryBackoff {
				backoff = r.config.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// Name implements agent.LLMProvider.
func (r *Router) Name() string {
	return "router"
}

// Models implements agent.LLMProvider by merging the models of all backends.
func (r *Router) Models() []agent.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var merged []agent.Model
	for _, backend := range r.backends {
		for _, m := range backend.Models() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	return merged
}

// SupportsTools implements agent.LLMProvider; true if any backend supports
// tools.
func (r *Router) SupportsTools() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, backend := range r.backends {
		if backend.SupportsTools() {
			return true
		}
	}
	return false
}
