package cgroupify

import (
	"fmt"
	"strings"

	sdbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/systemdutil"
)

// unitPropertyReader is satisfied by *sdbus.Conn.
type unitPropertyReader interface {
	GetUnitTypeProperties(unit, iface string) (map[string]interface{}, error)
}

// ResolveUnitRoot validates the unit argument and resolves its absolute
// cgroup leaf directory via the service manager's ControlGroup property,
// combining GetUnit+Properties.Get into the single typed call the
// corpus's own systemd cgroup drivers use.
func ResolveUnitRoot(conn unitPropertyReader, unit string) (string, error) {
	if !strings.HasSuffix(unit, ".scope") && !strings.HasSuffix(unit, ".service") {
		return "", fmt.Errorf("unit %q must be a .scope or .service", unit)
	}

	props, err := conn.GetUnitTypeProperties(unit, systemdutil.IfaceForUnit(unit))
	if err != nil {
		return "", fmt.Errorf("reading properties of %s: %w", unit, err)
	}

	cg, ok := props["ControlGroup"].(string)
	if !ok || cg == "" {
		return "", fmt.Errorf("unit %s has no ControlGroup property", unit)
	}

	return cgroup.Root + cg, nil
}

var _ unitPropertyReader = (*sdbus.Conn)(nil)
