package panel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Segment requests sent to the backend, by outcome ("ok", "error", "stale").
	SegmentRequests *prometheus.CounterVec
	// Time from issuing a segment request until its response arrives.
	SegmentDuration prometheus.Histogram
	// Rows held by the panel after the latest merge.
	Rows prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		SegmentRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statstable_segment_requests_total",
				Help: "Total number of segment aggregation requests, by outcome",
			},
			[]string{"outcome"},
		),
		SegmentDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statstable_segment_request_duration_seconds",
				Help:    "Latency of segment aggregation requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		Rows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "statstable_rows",
				Help: "Number of rows currently held by the stats table",
			},
		),
	}
}

const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomeStale = "stale"
)
