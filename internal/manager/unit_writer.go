package manager

import (
	sdbus "github.com/coreos/go-systemd/v22/dbus"
)

// unitWriter is satisfied by *sdbus.Conn. Narrowing to this interface
// lets tests substitute an in-memory fake instead of dialing the system
// bus, grounded on the corpus's own SetUnitProperties(name, runtime,
// properties...) call shape (see e.g. docker/runc's systemd cgroup
// drivers).
type unitWriter interface {
	SetUnitProperties(unit string, runtime bool, properties ...sdbus.Property) error
}
