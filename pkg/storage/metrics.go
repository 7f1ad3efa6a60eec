package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageHits tracks lookups answered by a tier
	StorageHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_result_storage_hits_total",
			Help: "Total number of result storage hits by tier",
		},
		[]string{"tier"},
	)

	// StorageMisses tracks lookups no tier could answer
	StorageMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_result_storage_misses_total",
			Help: "Total number of result storage misses",
		},
	)

	// StorageBackfills tracks entries copied into a faster tier after a hit
	StorageBackfills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_result_storage_backfills_total",
			Help: "Total number of entries back-filled into faster tiers",
		},
		[]string{"tier"},
	)

	// StorageErrors tracks tier failures
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_result_storage_errors_total",
			Help: "Total number of result storage tier errors",
		},
		[]string{"tier", "operation"},
	)

	// StorageSkips tracks writes a tier declined (too_large, unsupported)
	StorageSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_result_storage_skips_total",
			Help: "Total number of result storage operations skipped by a tier",
		},
		[]string{"tier", "reason"},
	)
)
