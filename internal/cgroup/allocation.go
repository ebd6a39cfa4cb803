package cgroup

// Allocation is the tuple of resource-arbitration properties pushed to a
// service-manager unit. MemoryMin/MemoryLow are always written; CPUWeight
// and IOWeight are omitted from the bus call when they hold WeightIgnore.
type Allocation struct {
	MemoryMin uint64
	MemoryLow uint64
	CPUWeight Weight
	IOWeight  Weight
}

// Min returns the smaller of two byte quantities, mirroring the original's
// MIN(active_count * per_user, global_max) ceiling computation.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}
