package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_orders_created_total",
		Help: "Total number of transfer orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_order_transitions_total",
		Help: "Committed order status transitions by target status",
	}, []string{"to"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_order_transitions_rejected_total",
		Help: "Rejected order actions by action and reason",
	}, []string{"action", "reason"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of reserve-and-decrement operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	PaymentsPreparedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_prepared_total",
		Help: "Total number of payments prepared by method",
	}, []string{"method"})

	PaymentsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of payments confirmed by source",
	}, []string{"source"})

	EscrowReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_released_total",
		Help: "Total number of escrow payments released to sellers",
	})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_total",
		Help: "Provider callbacks by source and outcome",
	}, []string{"source", "outcome"})

	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_latency_seconds",
		Help:    "Latency of outbound payment and courier provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	ReconcilerRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_repairs_total",
		Help: "Orders repaired by the reconciler by mismatch kind",
	}, []string{"kind"})

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
