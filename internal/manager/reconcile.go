package manager

import (
	"fmt"

	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/config"
	"github.com/uresourced/uresourced/internal/login"
)

// write is one planned SetUnitProperties call, in the order it must be
// issued relative to its siblings.
type write struct {
	Unit       string
	Runtime    bool
	Allocation cgroup.Allocation
}

func userSliceUnit(uid int) string   { return fmt.Sprintf("user-%d.slice", uid) }
func userServiceUnit(uid int) string { return fmt.Sprintf("user@%d.service", uid) }

func inactiveUserAllocation() cgroup.Allocation {
	return cgroup.Allocation{
		MemoryMin: 0,
		MemoryLow: 0,
		CPUWeight: cgroup.WeightIgnore,
		IOWeight:  cgroup.WeightIgnore,
	}
}

func activeUserAllocation(a config.UserAllocation) cgroup.Allocation {
	return cgroup.Allocation{
		MemoryMin: a.MemoryMin,
		MemoryLow: a.MemoryLow,
		CPUWeight: a.CPUWeight.Clamp(),
		IOWeight:  a.IOWeight.Clamp(),
	}
}

// aggregateAllocation is the user.slice ceiling: weights are always
// ignored (user.slice has no weight of its own to arbitrate) and memory
// fields are the lesser of activeCount*per-user budget and the
// configured global ceiling.
func aggregateAllocation(activeCount int, cfg config.ArbiterConfig) cgroup.Allocation {
	return cgroup.Allocation{
		MemoryMin: cgroup.Min(uint64(activeCount)*cfg.ActiveUser.MemoryMin, cfg.Global.MaxMemoryMin),
		MemoryLow: cgroup.Min(uint64(activeCount)*cfg.ActiveUser.MemoryLow, cfg.Global.MaxMemoryLow),
		CPUWeight: cgroup.WeightIgnore,
		IOWeight:  cgroup.WeightIgnore,
	}
}

// graphicalServiceChecker abstracts cgroup.UserHasGraphicalService so
// tests can substitute a fixture without touching /sys/fs/cgroup.
type graphicalServiceChecker func(uid int) bool

// reconcile computes the ordered set of bus writes to bring the service
// manager's view from prev to next, per the six-step algorithm: raise
// the user.slice ceiling early on increase, demote users who lost
// graphical focus, initialize newly-seen non-graphical users, promote
// newly (or force-)graphical users, then lower the ceiling late on
// decrease.
func reconcile(prev, next login.Snapshot, cfg config.ArbiterConfig, force bool, hasGraphicalService graphicalServiceChecker) []write {
	var writes []write

	if len(next.Graphical) > len(prev.Graphical) {
		writes = append(writes, write{Unit: "user.slice", Runtime: false, Allocation: aggregateAllocation(len(next.Graphical), cfg)})
	}

	for _, uid := range prev.Graphical {
		if next.Graphical.Contains(uid) {
			continue
		}

		writes = append(writes,
			write{Unit: userSliceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
			write{Unit: userServiceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
		)
	}

	for _, uid := range next.All {
		if prev.All.Contains(uid) || next.Graphical.Contains(uid) {
			continue
		}

		writes = append(writes,
			write{Unit: userSliceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
			write{Unit: userServiceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
		)
	}

	for _, uid := range next.Graphical {
		if prev.Graphical.Contains(uid) && !force {
			continue
		}

		writes = append(writes, write{Unit: userSliceUnit(uid), Runtime: false, Allocation: activeUserAllocation(cfg.ActiveUser)})

		serviceAlloc := inactiveUserAllocation()
		if hasGraphicalService(uid) {
			serviceAlloc = activeUserAllocation(cfg.ActiveUser)
		}

		writes = append(writes, write{Unit: userServiceUnit(uid), Runtime: false, Allocation: serviceAlloc})
	}

	if len(next.Graphical) < len(prev.Graphical) {
		writes = append(writes, write{Unit: "user.slice", Runtime: false, Allocation: aggregateAllocation(len(next.Graphical), cfg)})
	}

	return writes
}

// stopWrites demotes every known user and resets the aggregate to zero
// active users, so that after graceful shutdown the service manager
// observes no residual protection.
func stopWrites(all login.UserSet) []write {
	writes := make([]write, 0, len(all)*2+1)

	for _, uid := range all {
		writes = append(writes,
			write{Unit: userSliceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
			write{Unit: userServiceUnit(uid), Runtime: false, Allocation: inactiveUserAllocation()},
		)
	}

	writes = append(writes, write{Unit: "user.slice", Runtime: false, Allocation: cgroup.Allocation{CPUWeight: cgroup.WeightIgnore, IOWeight: cgroup.WeightIgnore}})

	return writes
}
