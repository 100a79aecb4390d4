// Package metrics bundles the Prometheus collectors shared across
// ingestion, scoring, and the proxy layer. A nil *Metrics disables
// collection without callers needing a guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deal-scout/internal/models"
)

// Metrics holds all collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	ListingsTotal     *prometheus.CounterVec
	DealsScoredTotal  *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	ObservationsTotal *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	ProxyHealthy      prometheus.Gauge
}

// New constructs and registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_fetches_total",
			Help: "Listing fetches issued, by source and result.",
		},
		[]string{"source", "result"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealscout_fetch_duration_seconds",
			Help:    "Listing fetch latency by source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_listings_ingested_total",
			Help: "Canonical listings ingested, by source.",
		},
		[]string{"source"},
	)
	dealsScored := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_deals_scored_total",
			Help: "Deals scored, by resulting tier.",
		},
		[]string{"tier"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_errors_total",
			Help: "Failures by classified error type.",
		},
		[]string{"error_type"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscout_retries_total",
			Help: "Retry attempts scheduled after transient failures.",
		},
	)
	observations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_price_observations_total",
			Help: "Price observation appends, by outcome (recorded or deduplicated).",
		},
		[]string{"outcome"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_ingestion_runs_total",
			Help: "Ingestion runs, by outcome (ok, partial, outage).",
		},
		[]string{"outcome"},
	)
	proxyHealthy := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealscout_proxy_healthy",
			Help: "Proxy pool entries currently outside cooldown.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, listings, dealsScored, errorsTotal, retries, observations, runs, proxyHealthy)

	return &Metrics{
		Registry:          registry,
		FetchesTotal:      fetches,
		FetchDuration:     fetchDuration,
		ListingsTotal:     listings,
		DealsScoredTotal:  dealsScored,
		ErrorsTotal:       errorsTotal,
		RetriesTotal:      retries,
		ObservationsTotal: observations,
		RunsTotal:         runs,
		ProxyHealthy:      proxyHealthy,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch attempt and its latency.
func (m *Metrics) ObserveFetch(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.FetchesTotal.WithLabelValues(source, result).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncListings counts ingested canonical listings.
func (m *Metrics) IncListings(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsTotal.WithLabelValues(source).Add(float64(n))
}

// IncDealScored counts one scored deal by tier.
func (m *Metrics) IncDealScored(tier models.Tier) {
	if m == nil {
		return
	}
	m.DealsScoredTotal.WithLabelValues(string(tier)).Inc()
}

// IncError counts a failure under its classified type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncRetries counts one scheduled retry.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncObservation counts a price-history append by outcome.
func (m *Metrics) IncObservation(recorded bool) {
	if m == nil {
		return
	}
	outcome := "recorded"
	if !recorded {
		outcome = "deduplicated"
	}
	m.ObservationsTotal.WithLabelValues(outcome).Inc()
}

// IncRun counts a completed ingestion run by outcome.
func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// SetProxyHealthy publishes the healthy proxy count.
func (m *Metrics) SetProxyHealthy(n int) {
	if m == nil {
		return
	}
	m.ProxyHealthy.Set(float64(n))
}
