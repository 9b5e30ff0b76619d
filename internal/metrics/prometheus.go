// Package metrics declares the Prometheus collectors shared by the binaries.
package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SMTP metrics
var (
	SMTPConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_connections_total",
			Help: "Total number of SMTP connections",
		},
		[]string{"status"}, // accepted, rejected
	)

	SMTPActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smtp_active_sessions",
			Help: "Number of currently active SMTP sessions",
		},
	)

	SMTPAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_auth_attempts_total",
			Help: "Total number of SMTP authentication attempts",
		},
		[]string{"result"}, // success, failure
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)
)

// Publishing metrics
var (
	IssuesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_publish_requests_total",
			Help: "Publish requests by outcome",
		},
		[]string{"outcome"}, // claimed, replayed, not_ready
	)

	DeliveriesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_enqueued_total",
			Help: "Total number of delivery jobs created by publishing",
		},
	)
)

// Delivery metrics
var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Delivery attempts by result",
		},
		[]string{"result"}, // sent, failed, skipped_invalid
	)

	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Total number of delivery attempts that left the job pending",
		},
	)

	DeliverySendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_send_duration_seconds",
			Help:    "Duration of calls to the mail provider",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_depth",
			Help: "Number of pending delivery jobs",
		},
	)
)

// Database metrics
var (
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// ObservePool copies pool statistics into the database gauges.
func ObservePool(stat *pgxpool.Stat) {
	DBConnectionsActive.Set(float64(stat.AcquiredConns()))
	DBConnectionsIdle.Set(float64(stat.IdleConns()))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
