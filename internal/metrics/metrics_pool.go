package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolAllocationsTotal counts allocation requests by strategy and outcome
	PoolAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_pool_allocations_total",
			Help: "Total number of pool allocation requests",
		},
		[]string{"kind", "result"}, // result: "ok", "exhausted", "rejected"
	)

	// PoolFreesTotal counts blocks returned to a pool
	PoolFreesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_pool_frees_total",
			Help: "Total number of blocks returned to pools",
		},
		[]string{"kind"},
	)

	// PoolBytesInUse tracks bytes handed out and not yet reclaimed, per named pool
	PoolBytesInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumen_pool_bytes_in_use",
			Help: "Bytes currently carved out of each pool",
		},
		[]string{"pool"},
	)

	// PoolOutOfOrderFreesTotal counts stack pool frees that broke LIFO order
	PoolOutOfOrderFreesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_pool_out_of_order_frees_total",
			Help: "Total number of stack pool frees that were not the most recent allocation",
		},
	)

	// PoolLeakedAllocationsTotal counts allocations still outstanding when a pool was closed
	PoolLeakedAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_pool_leaked_allocations_total",
			Help: "Total number of allocations outstanding at pool close",
		},
		[]string{"kind"},
	)

	// ChainChunksActive tracks live chunks across all chain pools
	ChainChunksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_chain_chunks_active",
			Help: "Current number of live chain pool chunks",
		},
	)

	// ChainChunksCreatedTotal counts chunk creations
	ChainChunksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_chain_chunks_created_total",
			Help: "Total number of chain pool chunks created",
		},
	)

	// ChainChunkBytesTotal counts backing bytes reserved for chunks
	ChainChunkBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_chain_chunk_bytes_total",
			Help: "Total number of bytes reserved for chain pool chunks",
		},
	)
)
