package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrCircuitOpen is returned, wrapped, when a breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// Cooldown is how long the circuit stays open before a trial call is
	// let through.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker fast-fails calls to a provider that keeps failing.
// Closed counts consecutive failures; at the threshold it opens. Once the
// cooldown has elapsed a single trial call is admitted (half-open): success
// closes the circuit, failure reopens it.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        int
	openedAt        time.Time
	trialInFlight   bool
	onStateChange   func(name string, from, to BreakerState)
	totalFailures   int64
	totalRejections int64
}

type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange registers a hook called, under the breaker lock, on every
// transition.
func WithStateChange(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

func NewCircuitBreaker(name string, config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state. An open circuit whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Allow reports whether a call may proceed. It returns an error wrapping
// ErrCircuitOpen when the circuit is open, or half-open with its trial call
// already in flight.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.cooledDown() {
			cb.transition(StateHalfOpen)
			cb.trialInFlight = true
			return nil
		}
	case StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			return nil
		}
	}
	cb.totalRejections++
	return errors.Wrapf(ErrCircuitOpen, "%s", cb.name)
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	case StateOpen:
		cb.openedAt = cb.now()
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Cancellation of ctx is not counted as a provider failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
		cb.releaseTrial()
	default:
		cb.RecordFailure()
	}
	return err
}

// Reset returns the breaker to closed with no recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trialInFlight = false
	cb.openedAt = time.Time{}
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// BreakerSnapshot is a point-in-time view of a breaker, for status output.
type BreakerSnapshot struct {
	Name                string       `json:"name" yaml:"name"`
	State               BreakerState `json:"-" yaml:"-"`
	StateName           string       `json:"state" yaml:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures" yaml:"consecutive_failures"`
	TotalFailures       int64        `json:"total_failures" yaml:"total_failures"`
	TotalRejections     int64        `json:"total_rejections" yaml:"total_rejections"`
}

func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		Name:                cb.name,
		State:               state,
		StateName:           state.String(),
		ConsecutiveFailures: cb.failures,
		TotalFailures:       cb.totalFailures,
		TotalRejections:     cb.totalRejections,
	}
}

func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

func (cb *CircuitBreaker) cooledDown() bool {
	return !cb.now().Before(cb.openedAt.Add(cb.config.Cooldown))
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.trialInFlight = false
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(cb.name, from, to)
	}
}
