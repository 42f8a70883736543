package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EngineOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmarket",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Engine operations, labelled by operation and result code.",
	}, []string{"op", "result"})

	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskmarket",
		Subsystem: "engine",
		Name:      "search_results",
		Help:      "Number of tasks returned per search.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskmarket",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmarket",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by final result.",
	}, []string{"result"})

	SkillCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmarket",
		Subsystem: "cache",
		Name:      "skill_lookups_total",
		Help:      "Skill catalog lookups by outcome (hit, miss, error).",
	}, []string{"outcome"})
)
