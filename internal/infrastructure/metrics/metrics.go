// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courseledger"

var (
	registerOnce sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Expiring cache lookups by result (hit, stale, miss).",
		},
		[]string{"cache", "result"},
	)

	cacheRefreshFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_failures_total",
			Help:      "Failed background refresh attempts.",
		},
		[]string{"cache"},
	)

	ledgerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions by operation type and result.",
		},
		[]string{"op", "result"},
	)

	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation outcomes by operation type.",
		},
		[]string{"op", "outcome"},
	)

	convergencePolls = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convergence_polls",
			Help:      "Index polls needed before a confirmed operation became visible.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Register adds every collector to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			cacheLookups,
			cacheRefreshFailures,
			ledgerSubmissions,
			reconcileOutcomes,
			convergencePolls,
			httpRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CacheLookup(cache, result string) {
	cacheLookups.WithLabelValues(cache, result).Inc()
}

func CacheRefreshFailed(cache string) {
	cacheRefreshFailures.WithLabelValues(cache).Inc()
}

func LedgerSubmission(op, result string) {
	ledgerSubmissions.WithLabelValues(op, result).Inc()
}

func ReconcileOutcome(op, outcome string) {
	reconcileOutcomes.WithLabelValues(op, outcome).Inc()
}

func ConvergencePolls(n int) {
	convergencePolls.Observe(float64(n))
}

func ObserveHTTP(method, route, status string, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
