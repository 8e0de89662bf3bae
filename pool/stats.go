package pool

// PoolStatistics tracks activity across the life of a mount. Purely
// informational; reported on unmount.
type PoolStatistics struct {
	// Swaps counts physical disk changes.
	Swaps uint64
	// Data bytes are file payload; total bytes include metadata blocks.
	DataBytesRead     uint64
	DataBytesWritten  uint64
	TotalBytesRead    uint64
	TotalBytesWritten uint64
}

// hitMemory is how many of the most recent lookups feed the rolling hit rate.
const hitMemory = 10_000

// CacheStatistics tracks block cache effectiveness.
type CacheStatistics struct {
	// hitsAndMisses is a bounded window of lookup outcomes, oldest first.
	hitsAndMisses []bool
	// SwapsSaved counts reads served from cache that would otherwise have
	// forced a disk change.
	SwapsSaved uint64
}

// Record notes a lookup outcome, discarding the oldest once the window is
// full.
func (stats *CacheStatistics) Record(hit bool) {
	if len(stats.hitsAndMisses) >= hitMemory {
		stats.hitsAndMisses = stats.hitsAndMisses[1:]
	}
	stats.hitsAndMisses = append(stats.hitsAndMisses, hit)
}

// HitRate returns hits over total lookups within the window, or 0 with no
// history.
func (stats *CacheStatistics) HitRate() float64 {
	if len(stats.hitsAndMisses) == 0 {
		return 0
	}
	hits := 0
	for _, hit := range stats.hitsAndMisses {
		if hit {
			hits++
		}
	}
	return float64(hits) / float64(len(stats.hitsAndMisses))
}
