// Package metrics holds the Prometheus instrumentation for the
// directory bootstrap engine: package-level counters and gauges
// registered at import time via promauto, in the style the rest of
// this module's teacher repo uses for its own proxy metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var downloadAttemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dirmgr_download_attempt_total",
	Help: "counter of directory download attempts, by phase and outcome",
}, []string{"phase", "outcome"})

var cacheLoadCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dirmgr_cache_load_total",
	Help: "counter of cache-only load attempts, by phase and whether anything changed",
}, []string{"phase", "changed"})

var resetCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dirmgr_phase_reset_total",
	Help: "counter of directory phase resets triggered by an elapsed reset deadline",
}, []string{"phase"})

var sourceErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dirmgr_source_error_total",
	Help: "counter of errors attributed to a directory source",
}, []string{"source"})

var bootstrapFractionGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dirmgr_bootstrap_fraction",
	Help: "coarse fraction of directory bootstrap completion in [0, 1], last value published",
})

// ObserveDownloadAttempt records one download attempt's outcome
// ("success" or "error") for the given phase description. Phase resets
// are counted separately, by ObserveReset.
func ObserveDownloadAttempt(phase, outcome string) {
	downloadAttemptCounter.WithLabelValues(phase, outcome).Inc()
}

// ObserveCacheLoad records one cache-only load attempt.
func ObserveCacheLoad(phase string, changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	cacheLoadCounter.WithLabelValues(phase, label).Inc()
}

// ObserveReset records a phase reset triggered by its deadline elapsing.
func ObserveReset(phase string) {
	resetCounter.WithLabelValues(phase).Inc()
}

// ObserveSourceError records an error attributed to a directory source.
func ObserveSourceError(source string) {
	sourceErrorCounter.WithLabelValues(source).Inc()
}

// SetBootstrapFraction publishes the latest bootstrap completion
// fraction. Callers should only ever move this forward; the metric
// itself doesn't enforce monotonicity; see dirstate.DirState's own
// contract for that.
func SetBootstrapFraction(fraction float64) {
	bootstrapFractionGauge.Set(fraction)
}
