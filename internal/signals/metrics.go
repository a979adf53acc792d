package signals

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	scanMentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_scan_mentions_total",
			Help: "Mentions processed by scans, by outcome",
		},
		[]string{"outcome"},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signal_scan_duration_seconds",
			Help:    "Duration of mention scans",
			Buckets: prometheus.DefBuckets,
		},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_refresh_total",
			Help: "Metrics and relationship refreshes, by kind, source and outcome",
		},
		[]string{"kind", "source", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(scanMentionsTotal, scanDuration, refreshTotal)
}
