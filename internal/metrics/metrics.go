// Package metrics exposes Prometheus instrumentation for the repricer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts marketplace requests by endpoint and result
	// (ok, api_error, network_error).
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_api_requests_total",
		Help: "Marketplace API requests by endpoint and result.",
	}, []string{"endpoint", "result"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repricer_api_request_duration_seconds",
		Help:    "Marketplace API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	APIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_api_retries_total",
		Help: "Retries after transient network failures.",
	}, []string{"endpoint"})

	SubmitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_submit_rate_limited_retries_total",
		Help: "Price submissions retried after a too_often response.",
	})

	// ListingOutcomesTotal counts per-listing results of each cycle.
	ListingOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_listing_outcomes_total",
		Help: "Per-listing cycle outcomes.",
	}, []string{"outcome"})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_cycles_total",
		Help: "Repricing cycles by result.",
	}, []string{"result"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repricer_cycle_duration_seconds",
		Help:    "Wall time of a repricing cycle.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	ListingsOnSale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repricer_listings_on_sale",
		Help: "Active listings seen in the last cycle.",
	})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repricer_ratelimit_wait_seconds",
		Help:    "Time spent waiting for the shared API token bucket.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_ratelimit_timeouts_total",
		Help: "Token bucket waits abandoned because the context ended.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
