// Package breaker implements per-engine circuit breaking. Repeated engine
// failures open the circuit; after a recovery timeout a single probe is let
// through (half-open) and its outcome decides whether the circuit closes.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned by Allow while the circuit is open.
type ErrOpen struct {
	Engine     string
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("Circuit open for engine %s, retry in %ds", e.Engine, int(e.RetryAfter.Seconds()))
}

// Breaker is a consecutive-failure counter for one engine.
type Breaker struct {
	engine    string
	threshold int
	recovery  time.Duration
	logger    hclog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func newBreaker(engine string, threshold int, recovery time.Duration, logger hclog.Logger) *Breaker {
	return &Breaker{
		engine:    engine,
		threshold: threshold,
		recovery:  recovery,
		logger:    logger,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Allow reports whether a call to the engine may proceed. The open to
// half-open transition is observed lazily here: once the recovery timeout has
// elapsed, the next query flips the breaker to half-open and is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed >= b.recovery {
			b.state = StateHalfOpen
			b.logger.Info("circuit half-open", "engine", b.engine)
			return nil
		}
		return &ErrOpen{Engine: b.engine, RetryAfter: b.recovery - elapsed}
	default:
		return fmt.Errorf("unknown breaker state %q for engine %s", b.state, b.engine)
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.logger.Info("circuit closed", "engine", b.engine)
	}
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure increments the consecutive-failure count. Crossing the
// threshold, or any failure while half-open, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.logger.Warn("circuit opened", "engine", b.engine, "failures", b.failures)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.logger.Warn("circuit reopened after failed probe", "engine", b.engine)
	case StateOpen:
		// Already open; a concurrent failure just keeps it open.
	}
}

// Snapshot is a point-in-time view of one breaker, for health and tests.
type Snapshot struct {
	Engine   string    `json:"engine"`
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Engine: b.engine, State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
}

// forceOpen stamps the breaker open. Used by tests via Registry.ForceOpen.
func (b *Breaker) forceOpen(failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.failures = failures
	b.openedAt = b.now()
}

// Registry maps engine names to breakers. It is process-wide and outlives
// any individual task.
type Registry struct {
	threshold int
	recovery  time.Duration
	logger    hclog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// DefaultFailureThreshold and DefaultRecoveryTimeout are used when a registry
// is constructed without explicit parameters.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 300 * time.Second
)

// NewRegistry creates a registry with the given breaker parameters.
func NewRegistry(threshold int, recovery time.Duration, logger hclog.Logger) *Registry {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		threshold: threshold,
		recovery:  recovery,
		logger:    logger.Named("breaker"),
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for an engine name, creating it on first use.
func (r *Registry) Get(engine string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[engine]
	if !ok {
		b = newBreaker(engine, r.threshold, r.recovery, r.logger)
		r.breakers[engine] = b
	}
	return b
}

// Snapshots returns the state of every known breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// ForceOpen stamps the breaker for an engine open with the given failure
// count. Intended for tests.
func (r *Registry) ForceOpen(engine string, failures int) {
	r.Get(engine).forceOpen(failures)
}

// ResetAll drops every breaker. Intended for test isolation.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(DefaultFailureThreshold, DefaultRecoveryTimeout, hclog.Default())
	}
	return defaultRegistry
}

// Reset discards the process-wide registry. Intended for test isolation.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
