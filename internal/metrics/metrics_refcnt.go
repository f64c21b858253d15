package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefcntControlBlocksCreatedTotal counts control blocks attached to ownable objects
	RefcntControlBlocksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_refcnt_control_blocks_created_total",
			Help: "Total number of ownership control blocks created",
		},
	)

	// RefcntControlBlocksReleasedTotal counts control blocks whose weak count reached zero
	RefcntControlBlocksReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_refcnt_control_blocks_released_total",
			Help: "Total number of ownership control blocks released",
		},
	)

	// RefcntObjectsDestroyedTotal counts objects destroyed by their last shared handle
	RefcntObjectsDestroyedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_refcnt_objects_destroyed_total",
			Help: "Total number of shared objects destroyed",
		},
	)

	// RefcntLockFailuresTotal counts weak locks attempted after destruction
	RefcntLockFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_refcnt_lock_failures_total",
			Help: "Total number of weak handle locks that found the object destroyed",
		},
	)
)
