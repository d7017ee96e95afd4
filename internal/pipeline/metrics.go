// internal/pipeline/metrics.go
package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes pipeline counters on a Prometheus registry. In
// daemon mode they are served on the monitor endpoint; in one-shot
// mode they still feed the end-of-run summary.
type Metrics struct {
	itemsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperboy",
			Name:      "items_total",
			Help:      "Work items processed, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperboy",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of one stage execution.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperboy",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed pipeline run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.itemsTotal, m.stageDuration, m.lastRun)
	}
	return m
}

func (m *Metrics) observeItem(stage, outcome string) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) observeStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRun(completed time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(completed.Unix()))
}
