// Package metrics provides Prometheus metrics for the collection service.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pokecollection_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Pricing API Metrics
	PricingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_pricing_requests_total",
			Help: "Requests made to the remote pricing service",
		},
		[]string{"endpoint", "status"}, // status: HTTP code, "timeout" or "error"
	)

	// Catalog Builder Metrics
	BuilderPagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pokecollection_builder_pages_fetched_total",
			Help: "Catalog pages fetched successfully",
		},
	)

	BuilderRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pokecollection_builder_retries_total",
			Help: "Page requests retried after a transient failure",
		},
	)

	BuilderSetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_builder_sets_total",
			Help: "Sets processed by the catalog builder",
		},
		[]string{"result"}, // "built" or "failed"
	)

	BuilderRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pokecollection_builder_run_duration_seconds",
			Help:    "Time taken by a full catalog build run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	CatalogRefreshQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pokecollection_catalog_refresh_queue_size",
			Help: "Number of sets waiting in the urgent refresh queue",
		},
	)

	// Price Cache Metrics
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_cache_lookups_total",
			Help: "Price cache lookups by the tier that answered",
		},
		[]string{"tier"}, // memory, inflight, gate, persistent, remote, negative
	)

	CacheTierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_cache_tier_errors_total",
			Help: "Failures absorbed by a price cache tier",
		},
		[]string{"tier"},
	)

	// Valuation Metrics
	ValuationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pokecollection_valuations_total",
			Help: "Series valuations computed",
		},
		[]string{"result"}, // "available" or "unavailable"
	)

	// Collection Metrics
	CollectionCardsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pokecollection_collection_cards_total",
			Help: "Total number of owned copies in the collection",
		},
	)

	CollectionSeriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pokecollection_collection_series_total",
			Help: "Number of distinct series in the collection",
		},
	)

	CollectionValueEUR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pokecollection_collection_value_eur",
			Help: "Estimated collection value in EUR",
		},
		[]string{"aggregate"}, // set_unique, owned_unique, owned_duplicates
	)
)
