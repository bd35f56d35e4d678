package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "freightflow"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total RPC requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "RPC request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "request_transitions_total", Help: "Freight request status transitions"},
		[]string{"from", "to"},
	)
	QuoteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "quote_status_total", Help: "Quotes entering each status"},
		[]string{"status"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "quote_accept_conflicts_total", Help: "Accepts that lost a race or hit a closed request",
	})

	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "outbox_events_published_total", Help: "Outbox events delivered to the broker",
	})
	OutboxFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "outbox_publish_errors_total", Help: "Failed outbox publish attempts",
	})
	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "idempotent_replays_total", Help: "Mutations answered from the idempotency cache",
	})
)
