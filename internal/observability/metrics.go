package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "identifications_total",
		Help:      "Identification requests by terminal outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "match_distance",
		Help:      "Best record-level descriptor distance per identification",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"outcome"})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "match_duration_seconds",
		Help:      "Duration of one matcher pass over the enrollment store",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "enrollments_total",
		Help:      "Enrollment writes by kind",
	}, []string{"kind"})

	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "ledger_writes_total",
		Help:      "Attendance ledger calls by result",
	}, []string{"result"})

	IndexSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "index_samples",
		Help:      "Number of descriptor samples in the approximate matching index",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
