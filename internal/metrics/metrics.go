// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the read API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	editionsTotal              *prometheus.CounterVec
	assetBytesTotal            *prometheus.CounterVec
	reconciledRecordsTotal     prometheus.Counter
	upsertDurationSeconds      prometheus.Histogram
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		editionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copertine_editions_total",
				Help: "Editions processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		assetBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copertine_asset_bytes_total",
				Help: "Bytes of cover images written to the asset store, labeled by source.",
			},
			[]string{"source"},
		)

		reconciledRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "copertine_reconciled_records_total",
				Help: "Stale records deleted while reconciling a business key.",
			},
		)

		upsertDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copertine_upsert_duration_seconds",
				Help:    "Duration of a full upsert including verification.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copertine_rate_limit_delays_seconds",
				Help:    "Histogram of inter-request wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copertine_cache_lookups_total",
				Help: "Read API cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveEdition counts one processed edition.
func ObserveEdition(source, outcome string) {
	Init()
	editionsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveAssetBytes records the size of a written cover image.
func ObserveAssetBytes(source string, n int) {
	Init()
	if n > 0 {
		assetBytesTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveReconciled counts stale records removed during reconciliation.
func ObserveReconciled(n int) {
	Init()
	if n > 0 {
		reconciledRecordsTotal.Add(float64(n))
	}
}

// ObserveUpsert records the duration of an upsert.
func ObserveUpsert(duration time.Duration) {
	Init()
	upsertDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
