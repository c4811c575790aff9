package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts events by kind and reason.
type Metrics struct {
	events *prometheus.CounterVec
	swept  prometheus.Counter
}

// NewMetrics registers the counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "session_events_total",
			Help:      "Session lifecycle events by kind and reason.",
		}, []string{"kind", "reason"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "sessions_swept_total",
			Help:      "Revoked or expired session records deleted by the sweep.",
		}),
	}
	reg.MustRegister(m.events, m.swept)
	return m
}

// Emit implements Sink.
func (m *Metrics) Emit(_ context.Context, e Event) {
	m.events.WithLabelValues(string(e.Kind), e.Reason).Inc()
	if e.Kind == KindSwept && e.Count > 0 {
		m.swept.Add(float64(e.Count))
	}
}
