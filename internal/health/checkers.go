package health

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenforge/lumen/internal/memory"
)

// Default thresholds for PoolChecker.
const (
	DefaultDegradedRatio  = 0.80
	DefaultExhaustedRatio = 0.98
)

// PoolChecker reports how close a pool is to exhaustion. A stack pool that
// overflowed since its last reset is unhealthy; otherwise it is graded by
// current usage, and a high-water mark above the degraded ratio keeps it
// degraded. A growing chain pool
// whose next chunk would already be the maximum size is degraded. Heap
// pools are always healthy.
type PoolChecker struct {
	name           string
	pool           *memory.Pool
	degradedRatio  float64
	exhaustedRatio float64
}

// NewPoolChecker builds a checker with the default thresholds.
func NewPoolChecker(name string, pool *memory.Pool) *PoolChecker {
	return &PoolChecker{
		name:           name,
		pool:           pool,
		degradedRatio:  DefaultDegradedRatio,
		exhaustedRatio: DefaultExhaustedRatio,
	}
}

// WithThresholds overrides the usage ratios at which the pool is reported
// degraded and unhealthy.
func (pc *PoolChecker) WithThresholds(degraded, exhausted float64) *PoolChecker {
	pc.degradedRatio = degraded
	pc.exhaustedRatio = exhausted
	return pc
}

func (pc *PoolChecker) Name() string {
	return pc.name
}

func (pc *PoolChecker) Check(ctx context.Context) *ComponentHealth {
	st := pc.pool.Stats()
	meta := map[string]interface{}{
		"kind":            st.Kind.String(),
		"allocations":     st.AllocationCount,
		"allocated_bytes": st.AllocatedBytes,
		"total_bytes":     st.TotalBytes,
	}

	status, message := StatusHealthy, "pool operational"
	switch st.Kind {
	case memory.KindStack:
		stack := pc.pool.Stack()
		peak := stack.Peak()
		meta["peak_bytes"] = peak
		peakRatio := float64(peak) / float64(st.TotalBytes)
		meta["peak_ratio"] = peakRatio
		usedRatio := float64(st.AllocatedBytes) / float64(st.TotalBytes)
		meta["used_ratio"] = usedRatio
		switch {
		case stack.Exhausted():
			status, message = StatusUnhealthy, "stack pool exhausted until reset"
		default:
			status, message = pc.grade(usedRatio, "stack usage")
			if status == StatusHealthy && peakRatio >= pc.degradedRatio {
				status, message = StatusDegraded, fmt.Sprintf("stack high-water mark at %.0f%% of capacity", peakRatio*100)
			}
		}
	case memory.KindChain:
		chain := pc.pool.Chain()
		meta["chunks"] = st.Chunks
		next := chain.NextChunkSize()
		meta["next_chunk_bytes"] = next
		if chain.Config().Growth != memory.GrowthFixed && st.Chunks > 0 && next >= chain.MaxChunkSize() {
			status, message = StatusDegraded, "chunk growth saturated at max chunk size"
		}
	}

	return &ComponentHealth{
		Name:        pc.name,
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
		Metadata:    meta,
	}
}

func (pc *PoolChecker) grade(ratio float64, what string) (HealthStatus, string) {
	switch {
	case ratio >= pc.exhaustedRatio:
		return StatusUnhealthy, fmt.Sprintf("%s at %.0f%% of capacity", what, ratio*100)
	case ratio >= pc.degradedRatio:
		return StatusDegraded, fmt.Sprintf("%s at %.0f%% of capacity", what, ratio*100)
	default:
		return StatusHealthy, "pool operational"
	}
}
