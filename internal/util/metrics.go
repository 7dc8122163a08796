package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of hosted checkout sessions created",
	})

	CheckoutSessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_failed_total",
		Help: "Total number of checkout requests that did not produce a session",
	}, []string{"reason"})

	CheckoutNeedsOnboardingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_needs_onboarding_total",
		Help: "Total number of checkouts refused because the payment account is not complete",
	})

	CheckoutIdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_idempotent_replays_total",
		Help: "Total number of checkout responses replayed from an idempotency key",
	})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout session creation",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of processor webhook events by type and outcome",
	}, []string{"type", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of processor webhook handling",
		Buckets: prometheus.DefBuckets,
	})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicate_deliveries_total",
		Help: "Total number of webhook deliveries skipped by the idempotency ledger",
	})

	OrdersSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_settled_total",
		Help: "Total number of orders materialized from settled sessions",
	})

	InventoryOversellTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_oversell_total",
		Help: "Total number of settled lines that could not be decremented",
	})

	OversellReconciliationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_oversell_reconciliations_total",
		Help: "Total number of oversell events picked up by the reconciliation worker",
	})

	AccountRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_account_refreshes_total",
		Help: "Total number of payment account status refreshes by result",
	}, []string{"result"})

	PendingTransactionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pending_transactions_reaped_total",
		Help: "Total number of stale pending transactions marked failed",
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
