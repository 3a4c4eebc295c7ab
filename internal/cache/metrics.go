package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Resolution Caches
// =============================================================================

var metrics = struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	computations *prometheus.CounterVec
	rollovers    *prometheus.CounterVec
}{
	// Labels: cache (targets, instructions, ...)
	hits: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injectpoint",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups answered from the live epoch",
	}, []string{"cache"}),

	misses: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injectpoint",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that found no entry in the live epoch",
	}, []string{"cache"}),

	computations: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injectpoint",
		Subsystem: "cache",
		Name:      "computations_total",
		Help:      "Values computed and stored",
	}, []string{"cache"}),

	rollovers: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injectpoint",
		Subsystem: "cache",
		Name:      "epoch_rollovers_total",
		Help:      "Epoch replacements caused by a modification stamp advance",
	}, []string{"cache"}),
}
