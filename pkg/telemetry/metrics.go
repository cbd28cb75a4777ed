package telemetry

import "github.com/prometheus/client_golang/prometheus"

// resultCounters mirrors app/prometheus.go's CounterVec + init() pattern,
// generalized from HTTP status codes to the closed result-code vocabulary
// in this package.
type resultCounters struct {
	resultsTotal *prometheus.CounterVec
	clampsTotal  *prometheus.CounterVec
}

var defaultCounters = newResultCounters()

func newResultCounters() *resultCounters {
	rc := &resultCounters{
		resultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playout_results_total",
				Help: "Count of telemetry events by channel and result code.",
			},
			[]string{"channel_id", "code"},
		),
		clampsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playout_clamps_total",
				Help: "Count of pad-to-boundary clamps at segment/block fences.",
			},
			[]string{"channel_id"},
		),
	}
	prometheus.MustRegister(rc.resultsTotal, rc.clampsTotal)
	return rc
}
