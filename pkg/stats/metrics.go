package stats

import (
	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports statement statistics across all sessions
type Metrics struct {
	statements *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	suspects   prometheus.Counter
	sessions   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nplusone",
			Name:      "statements_total",
			Help:      "Statements executed by sessions, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nplusone",
			Name:      "statement_failures_total",
			Help:      "Statements that returned an error, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nplusone",
			Name:      "statement_duration_seconds",
			Help:      "Statement latency, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		suspects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nplusone",
			Name:      "suspected_n_plus_one_total",
			Help:      "Repeated lazy-load statements flagged as N+1 suspects.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nplusone",
			Name:      "sessions_total",
			Help:      "Sessions finished.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.statements, m.failures, m.duration, m.suspects, m.sessions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(stmt db.Statement) {
	kind := string(stmt.Kind)
	m.statements.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind).Observe(stmt.Elapsed.Seconds())
	if stmt.Err != nil {
		m.failures.WithLabelValues(kind).Inc()
	}
}
