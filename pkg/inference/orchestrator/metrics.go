package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports run outcomes and tool activity. A nil *Metrics records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeguard_runs_total",
			Help: "Agent runs by outcome (completed, failed, cancelled)",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeguard_run_duration_seconds",
			Help:    "Wall time of agent runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeguard_tool_calls_total",
			Help: "Tool calls by tool and result code (ok for success)",
		}, []string{"tool", "code"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifeguard_tool_duration_seconds",
			Help:    "Execution time of tool calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

func (m *Metrics) recordRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) recordTool(tool, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, code).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
