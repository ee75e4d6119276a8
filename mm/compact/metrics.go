package compact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scanner's Prometheus collectors.
type Metrics struct {
	passes   *prometheus.CounterVec
	evicted  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	released *prometheus.CounterVec
	extents  *prometheus.GaugeVec
	duration prometheus.Histogram
}

// NewMetrics registers the scanner collectors with r. A nil r leaves them unregistered.
func NewMetrics(r prometheus.Registerer) *Metrics {
	f := promauto.With(r)
	return &Metrics{
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regionkit_compaction_passes_total",
			Help: "Total number of compaction passes per bank.",
		}, []string{"bank"}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regionkit_compaction_evicted_frames_total",
			Help: "Total number of region frames reclaimed by compaction.",
		}, []string{"bank"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regionkit_compaction_skipped_frames_total",
			Help: "Total number of region frames compaction could not reclaim.",
		}, []string{"bank", "reason"}),
		released: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regionkit_compaction_released_regions_total",
			Help: "Total number of regions emptied and returned by compaction.",
		}, []string{"bank"}),
		extents: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regionkit_bank_extents",
			Help: "Number of in-use extents found by the last compaction pass.",
		}, []string{"bank"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "regionkit_compaction_duration_seconds",
			Help:    "Time spent in one bank compaction pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(res.Bank).Inc()
	m.evicted.WithLabelValues(res.Bank).Add(float64(res.Evicted))
	m.skipped.WithLabelValues(res.Bank, "busy").Add(float64(res.SkippedBusy))
	m.skipped.WithLabelValues(res.Bank, "unmap").Add(float64(res.SkippedUnmap))
	m.released.WithLabelValues(res.Bank).Add(float64(res.RegionsReleased))
	m.extents.WithLabelValues(res.Bank).Set(float64(len(res.Extents)))
	m.duration.Observe(res.Duration.Seconds())
}
