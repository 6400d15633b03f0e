package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RentalsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentals_initiated_total",
		Help: "Total number of rentals that received a snap token",
	})

	RentalsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentals_settled_total",
		Help: "Total number of rentals turned into an active occupancy",
	})

	RentalsAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentals_abandoned_total",
		Help: "Total number of pending rentals abandoned by the TTL sweep",
	})

	RentalsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentals_failed_total",
		Help: "Total number of rental initiations that failed",
	}, []string{"reason"})

	OccupanciesReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "occupancies_released_total",
		Help: "Total number of expired occupancies cleared",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Payment notifications by outcome",
	}, []string{"outcome"})

	ReconcileFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_failures_total",
		Help: "Reconciliations that could not be applied, by failing step",
	}, []string{"step"})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_latency_seconds",
		Help:    "Latency of payment notification reconciliation",
		Buckets: prometheus.DefBuckets,
	})

	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_retries_total",
		Help: "Store operations retried after a failure",
	}, []string{"op"})

	GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of snap transaction creation",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
