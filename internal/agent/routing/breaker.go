package routing

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one backend.
type BreakerState string

const (
	// BreakerClosed allows all requests.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects requests until the reset timeout elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen probes the backend after the reset timeout.
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures circuit breaking per backend.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default: 3.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects requests before
	// allowing a probe. Default: 30 seconds.
	ResetTimeout time.Duration

	// SuccessThreshold is the consecutive success count required to close
	// a half-open circuit. Default: 2.
	SuccessThreshold int
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// TransitionFunc observes breaker state changes.
type TransitionFunc func(backend string, from, to BreakerState)

// Breaker is the circuit breaker for a single backend identity.
// All mutation happens under its mutex.
type Breaker struct {
	mu           sync.Mutex
	name         string
	config       BreakerConfig
	state        BreakerState
	failures     int
	successes    int
	openedAt     time.Time
	onTransition TransitionFunc
	now          func() time.Time
}

func newBreaker(name string, config BreakerConfig, onTransition TransitionFunc) *Breaker {
	return &Breaker{
		name:         name,
		config:       config,
		state:        BreakerClosed,
		onTransition: onTransition,
		now:          time.Now,
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// Allow reports whether a request may proceed. An open circuit whose reset
// timeout has elapsed moves to half-open and allows a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.successes = 0
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count; in half-open state it accumulates
// toward the success threshold before closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure counts a failure; reaching the failure threshold, or any
// failure while half-open, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.open()
	}
}

// open must be called with the mutex held.
func (b *Breaker) open() {
	b.failures = 0
	b.successes = 0
	b.openedAt = b.now()
	b.transition(BreakerOpen)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transition(BreakerClosed)
}

// BreakerRegistry holds one breaker per backend identity. It is shared
// process-wide across sessions.
type BreakerRegistry struct {
	mu           sync.Mutex
	config       BreakerConfig
	breakers     map[string]*Breaker
	onTransition TransitionFunc
}

// NewBreakerRegistry creates a registry. Zero config fields fall back to
// defaults. onTransition may be nil.
func NewBreakerRegistry(config BreakerConfig, onTransition TransitionFunc) *BreakerRegistry {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaults.ResetTimeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	return &BreakerRegistry{
		config:       config,
		breakers:     make(map[string]*Breaker),
		onTransition: onTransition,
	}
}

// For returns the breaker for the given backend identity, creating it on
// first use.
func (r *BreakerRegistry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.config, r.onTransition)
		r.breakers[name] = b
	}
	return b
}

// ResetAll forces every breaker closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
