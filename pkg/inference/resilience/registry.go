package resilience

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BreakerRegistry hands out one CircuitBreaker per key, usually a provider
// name, for the lifetime of the process. Breakers are created lazily.
type BreakerRegistry struct {
	config  BreakerConfig
	metrics *Metrics
	logger  zerolog.Logger
	opts    []BreakerOption

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

type RegistryOption func(*BreakerRegistry)

func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *BreakerRegistry) {
		r.metrics = m
	}
}

func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *BreakerRegistry) {
		r.logger = logger
	}
}

// WithBreakerOptions applies opts to every breaker the registry creates.
func WithBreakerOptions(opts ...BreakerOption) RegistryOption {
	return func(r *BreakerRegistry) {
		r.opts = append(r.opts, opts...)
	}
}

func NewBreakerRegistry(config BreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		config:   config,
		logger:   log.Logger,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "breakers").Logger()
	return r
}

// Get returns the breaker for key, creating it on first use. Repeated calls
// return the same instance until ResetAll.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	opts := append([]BreakerOption{WithStateChange(r.stateChanged)}, r.opts...)
	cb := NewCircuitBreaker(key, r.config, opts...)
	r.breakers[key] = cb
	r.metrics.RecordBreakerState(key, StateClosed)
	return cb
}

// ResetAll drops every breaker. Subsequent Get calls build fresh instances;
// breakers handed out earlier keep their state but are no longer shared.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.breakers {
		r.metrics.RecordBreakerState(key, StateClosed)
	}
	r.breakers = make(map[string]*CircuitBreaker)
}

// Snapshot returns the state of every known breaker, sorted by name.
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	ret := make([]BreakerSnapshot, 0, len(breakers))
	for _, cb := range breakers {
		ret = append(ret, cb.Snapshot())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func (r *BreakerRegistry) stateChanged(name string, from, to BreakerState) {
	r.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
	r.metrics.RecordBreakerState(name, to)
}

var (
	defaultBreakersOnce sync.Once
	defaultBreakers     *BreakerRegistry
)

// DefaultBreakers is the process-wide registry.
func DefaultBreakers() *BreakerRegistry {
	defaultBreakersOnce.Do(func() {
		defaultBreakers = NewBreakerRegistry(DefaultBreakerConfig())
	})
	return defaultBreakers
}

func GetProviderCircuitBreaker(provider string) *CircuitBreaker {
	return DefaultBreakers().Get(provider)
}

func ResetAllCircuitBreakers() {
	DefaultBreakers().ResetAll()
}
