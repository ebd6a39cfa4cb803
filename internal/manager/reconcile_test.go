package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/config"
	"github.com/uresourced/uresourced/internal/login"
)

func testConfig() config.ArbiterConfig {
	return config.ArbiterConfig{
		Global: config.Global{MaxMemoryMin: 4 << 30, MaxMemoryLow: 8 << 30},
		ActiveUser: config.UserAllocation{
			MemoryMin: 1 << 30,
			MemoryLow: 2 << 30,
			CPUWeight: 500,
			IOWeight:  500,
		},
	}
}

func noGraphicalService(int) bool { return false }

func TestReconcileNewGraphicalUserRaisesCeilingEarly(t *testing.T) {
	prev := login.Snapshot{}
	next := login.Snapshot{All: login.UserSet{1000}, Graphical: login.UserSet{1000}}

	writes := reconcile(prev, next, testConfig(), false, noGraphicalService)

	require.NotEmpty(t, writes)
	require.Equal(t, "user.slice", writes[0].Unit, "aggregate ceiling must be raised before any per-user promotion")

	var sliceIdx, serviceIdx = -1, -1
	for i, w := range writes {
		if w.Unit == "user-1000.slice" {
			sliceIdx = i
		}
		if w.Unit == "user@1000.service" {
			serviceIdx = i
		}
	}

	require.GreaterOrEqual(t, sliceIdx, 0)
	require.GreaterOrEqual(t, serviceIdx, 0)
	require.Less(t, sliceIdx, serviceIdx)
	require.Equal(t, cgroup.Weight(500), writes[sliceIdx].Allocation.CPUWeight)
}

func TestReconcileDemotedUserLowersCeilingLate(t *testing.T) {
	prev := login.Snapshot{All: login.UserSet{1000, 1001}, Graphical: login.UserSet{1000, 1001}}
	next := login.Snapshot{All: login.UserSet{1000, 1001}, Graphical: login.UserSet{1000}}

	writes := reconcile(prev, next, testConfig(), false, noGraphicalService)

	require.Equal(t, "user.slice", writes[len(writes)-1].Unit, "aggregate ceiling must be lowered after demotion")

	var demoted bool
	for _, w := range writes {
		if w.Unit == "user-1001.slice" {
			demoted = true
			require.True(t, w.Allocation.CPUWeight.IsIgnore())
			require.Equal(t, uint64(0), w.Allocation.MemoryMin)
		}
	}
	require.True(t, demoted)
}

func TestReconcileUnchangedGraphicalUserIsNotRewritten(t *testing.T) {
	prev := login.Snapshot{All: login.UserSet{1000}, Graphical: login.UserSet{1000}}
	next := login.Snapshot{All: login.UserSet{1000}, Graphical: login.UserSet{1000}}

	writes := reconcile(prev, next, testConfig(), false, noGraphicalService)

	require.Empty(t, writes)
}

func TestReconcileForceRewritesUnchangedGraphicalUser(t *testing.T) {
	prev := login.Snapshot{All: login.UserSet{1000}, Graphical: login.UserSet{1000}}
	next := login.Snapshot{All: login.UserSet{1000}, Graphical: login.UserSet{1000}}

	writes := reconcile(prev, next, testConfig(), true, noGraphicalService)

	require.NotEmpty(t, writes)
}

func TestReconcileNewNonGraphicalUserInitializedInactive(t *testing.T) {
	prev := login.Snapshot{}
	next := login.Snapshot{All: login.UserSet{2000}, Graphical: login.UserSet{}}

	writes := reconcile(prev, next, testConfig(), false, noGraphicalService)

	require.Len(t, writes, 2)
	require.Equal(t, "user-2000.slice", writes[0].Unit)
	require.True(t, writes[0].Allocation.CPUWeight.IsIgnore())
}

func TestReconcilePromotedUserWithGraphicalServiceGetsActiveService(t *testing.T) {
	prev := login.Snapshot{}
	next := login.Snapshot{All: login.UserSet{3000}, Graphical: login.UserSet{3000}}

	hasService := func(uid int) bool { return uid == 3000 }

	writes := reconcile(prev, next, testConfig(), false, hasService)

	var service *write
	for i := range writes {
		if writes[i].Unit == "user@3000.service" {
			service = &writes[i]
		}
	}

	require.NotNil(t, service)
	require.Equal(t, cgroup.Weight(500), service.Allocation.CPUWeight)
}

func TestAggregateAllocationClampsToGlobalCeiling(t *testing.T) {
	cfg := testConfig()

	alloc := aggregateAllocation(10, cfg)

	require.Equal(t, cfg.Global.MaxMemoryMin, alloc.MemoryMin)
	require.Equal(t, cfg.Global.MaxMemoryLow, alloc.MemoryLow)
}

func TestStopWritesDemotesEveryKnownUser(t *testing.T) {
	writes := stopWrites(login.UserSet{1000, 1001})

	require.Len(t, writes, 5)
	require.Equal(t, "user.slice", writes[len(writes)-1].Unit)
}
