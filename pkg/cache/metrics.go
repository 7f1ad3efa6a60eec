package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, durable)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Total number of CRM response cache hits",
		},
		[]string{"layer"}, // "memory", "durable"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_misses_total",
			Help: "Total number of CRM response cache misses",
		},
	)

	// CacheEntries tracks the number of in-process entries per cache,
	// labelled by durable key prefix
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_cache_entries",
			Help: "Current number of entries in the in-process response cache",
		},
		[]string{"prefix"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_evictions_total",
			Help: "Total number of response cache entries removed",
		},
		[]string{"reason"}, // "expired", "corrupt", "invalidated"
	)

	// CacheErrors tracks durable tier failures
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_errors_total",
			Help: "Total number of response cache storage errors",
		},
		[]string{"tier", "operation"},
	)
)
