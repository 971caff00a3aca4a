// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlacementsTotal counts accepted placements, partitioned by kind.
	PlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_placements_total",
		Help: "Total accepted placements",
	}, []string{"kind"})

	// PlacementRejectsTotal counts rejected placements by reason.
	PlacementRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_placement_rejects_total",
		Help: "Placements rejected during validation or debit",
	}, []string{"reason"})

	// SettlementsTotal counts terminal transitions by kind and result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_settlements_total",
		Help: "Total settled positions",
	}, []string{"kind", "result"})

	// LedgerAdjustments counts balance adjustments by reason.
	LedgerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_ledger_adjustments_total",
		Help: "Total ledger balance adjustments",
	}, []string{"reason"})

	// ResolverCycleSeconds tracks resolver cycle duration per loop.
	ResolverCycleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betengine_resolver_cycle_seconds",
		Help:    "Resolver cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})

	// ResolverItemErrorsTotal counts items skipped inside a cycle per loop.
	ResolverItemErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_resolver_item_errors_total",
		Help: "Items skipped inside resolver cycles",
	}, []string{"loop"})

	// FeedRequestsTotal counts external feed fetches by source and outcome.
	FeedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_feed_requests_total",
		Help: "External feed requests",
	}, []string{"source", "outcome"})

	// PriceStreamConnected reports whether the live price stream is up.
	PriceStreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betengine_price_stream_connected",
		Help: "1 while the live price stream is connected",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
