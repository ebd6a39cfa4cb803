package systemdutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uresourced/uresourced/internal/cgroup"
)

func TestUnitPropertiesOmitsIgnoredWeights(t *testing.T) {
	props := UnitProperties(cgroup.Allocation{
		MemoryMin: 100,
		MemoryLow: 200,
		CPUWeight: cgroup.WeightIgnore,
		IOWeight:  500,
	})

	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}

	require.Contains(t, names, "MemoryMin")
	require.Contains(t, names, "MemoryLow")
	require.NotContains(t, names, "CPUWeight")
	require.Contains(t, names, "IOWeight")
}

func TestIfaceForUnit(t *testing.T) {
	require.Equal(t, "Scope", IfaceForUnit("app-1000.scope"))
	require.Equal(t, "Service", IfaceForUnit("user@1000.service"))
	require.Equal(t, "Unit", IfaceForUnit("user-1000.slice"))
}
