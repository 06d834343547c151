// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ParseAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_parse_attempts_total",
			Help: "Parse attempts by site, status and error code.",
		},
		[]string{"site", "status", "code"},
	)

	ParseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paywatch_parse_duration_seconds",
			Help:    "Duration of one site parse attempt.",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 180, 300},
		},
		[]string{"site"},
	)

	PaymentMethodsFound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paywatch_payment_methods",
			Help: "Payment methods found by the latest successful parse.",
		},
		[]string{"site"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_batches_total",
			Help: "Batch triggers by outcome (completed, skipped).",
		},
		[]string{"outcome"},
	)

	LastBatchTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paywatch_last_batch_timestamp_seconds",
			Help: "Unix time the last batch finished.",
		},
	)

	CaptchaSolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_captcha_solves_total",
			Help: "Challenge solve attempts by outcome.",
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_http_requests_total",
			Help: "API requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)
)
