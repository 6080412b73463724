package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements loop.Recorder on top of Prometheus.
type Metrics struct {
	chatTurns  *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	iterations prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_provider_turns_total",
			Help: "Provider round-trips by provider and outcome.",
		}, []string{"provider", "outcome"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_tool_calls_total",
			Help: "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_tool_iterations",
			Help:    "Tool iterations used per chat request.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
	}
}

func (m *Metrics) ChatTurn(provider, outcome string) {
	m.chatTurns.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Iterations(n int) {
	m.iterations.Observe(float64(n))
}
