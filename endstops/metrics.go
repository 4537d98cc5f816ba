package endstops

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records query outcomes. A nil *Metrics records nothing.
type Metrics struct {
	queries   prometheus.Counter
	failures  prometheus.Counter
	duration  prometheus.Histogram
	triggered *prometheus.GaugeVec
}

// NewMetrics registers the query metrics on reg. A nil reg returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "query_endstops_queries_total",
			Help: "Endstop queries that read every endstop.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "query_endstops_query_failures_total",
			Help: "Endstop queries aborted by a read or timing failure.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "query_endstops_query_duration_seconds",
			Help:    "Time to read every endstop, including the wait for queued motion.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		triggered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "query_endstops_triggered",
			Help: "Endstop state from the last query (1 triggered, 0 open).",
		}, []string{"endstop"}),
	}
	reg.MustRegister(m.queries, m.failures, m.duration, m.triggered)
	return m
}

func (m *Metrics) queryDone(states []State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.Inc()
	m.duration.Observe(elapsed.Seconds())
	for _, s := range states {
		v := 0.0
		if s.Triggered {
			v = 1
		}
		m.triggered.WithLabelValues(s.Name).Set(v)
	}
}

func (m *Metrics) queryFailed() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
