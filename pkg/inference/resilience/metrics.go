package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports retry and breaker activity. A nil *Metrics records
// nothing, so components can take one unconditionally.
type Metrics struct {
	retries      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec
}

// NewMetrics registers the resilience collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeguard_provider_retries_total",
			Help: "Provider calls retried, by provider and error category",
		}, []string{"provider", "category"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeguard_provider_errors_total",
			Help: "Classified provider errors, by provider and error category",
		}, []string{"provider", "category"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lifeguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeguard_circuit_breaker_trips_total",
			Help: "Times a circuit breaker opened",
		}, []string{"breaker"}),
	}
}

func (m *Metrics) RecordRetry(provider string, category Category) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider, string(category)).Inc()
}

func (m *Metrics) RecordError(provider string, category Category) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(provider, string(category)).Inc()
}

func (m *Metrics) RecordBreakerState(name string, state BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
	if state == StateOpen {
		m.breakerTrips.WithLabelValues(name).Inc()
	}
}
