// Package systemdutil holds the small pieces of systemd-unit bookkeeping
// shared by the system arbiter and cgroupify: turning an Allocation into
// unit properties, and picking the right unit-type interface for a unit
// name.
package systemdutil

import (
	"strings"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"

	"github.com/uresourced/uresourced/internal/cgroup"
)

// UnitProperties renders an Allocation into the systemd unit properties
// the service manager understands. CPUWeight/IOWeight are omitted
// entirely when Ignore: an omitted property leaves the unit's current
// weight untouched, whereas there is no "ignore" literal systemd
// understands for a weight property.
func UnitProperties(a cgroup.Allocation) []sdbus.Property {
	props := []sdbus.Property{
		{Name: "MemoryMin", Value: dbus.MakeVariant(a.MemoryMin)},
		{Name: "MemoryLow", Value: dbus.MakeVariant(a.MemoryLow)},
	}

	if !a.CPUWeight.IsIgnore() {
		props = append(props, sdbus.Property{Name: "CPUWeight", Value: dbus.MakeVariant(uint64(a.CPUWeight))})
	}

	if !a.IOWeight.IsIgnore() {
		props = append(props, sdbus.Property{Name: "IOWeight", Value: dbus.MakeVariant(uint64(a.IOWeight))})
	}

	return props
}

// IfaceForUnit picks the systemd unit-type interface name (the suffix
// after org.freedesktop.systemd1.) that carries a unit's
// read-only properties (ControlGroup among them), mirroring moby's
// container-cgroup resolution: scopes and services each expose their
// properties on their own interface, anything else falls back to the
// generic Unit interface.
func IfaceForUnit(unit string) string {
	switch {
	case strings.HasSuffix(unit, ".scope"):
		return "Scope"
	case strings.HasSuffix(unit, ".service"):
		return "Service"
	default:
		return "Unit"
	}
}
