package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for CRM client operations.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	crmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_errors_total",
		Help: "Total CRM API errors by class",
	}, []string{"class"})

	crmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	crmRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	crmRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	crmInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_cache_invalidations_total",
		Help: "Total cache entries invalidated after mutating requests by method",
	}, []string{"method"})
)
