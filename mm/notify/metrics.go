package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts events per kind and domain.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics registers the event counter with r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		events: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "regionkit_advisory_events_total",
			Help: "Total number of advisory events emitted by the page allocator.",
		}, []string{"event", "domain"}),
	}
}

func (m *Metrics) Notify(e Event) {
	m.events.WithLabelValues(e.Kind.String(), e.Domain.String()).Inc()
}
