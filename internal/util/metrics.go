package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed booking creations",
	}, []string{"reason"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Total number of booking state transitions",
	}, []string{"transition"})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_sweep_runs_total",
		Help: "Total number of scheduled sweep runs",
	}, []string{"job"})

	PaymentAuthAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_auth_attempts_total",
		Help: "Total number of payment authorization attempts",
	})

	PaymentAuthFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_auth_failed_total",
		Help: "Total number of failed payment authorizations",
	})

	PaymentRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_total",
		Help: "Total number of retried best-effort payment calls",
	})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processor calls",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook notifications by outcome",
	}, []string{"result"})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache hits by view",
	}, []string{"view"})

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
