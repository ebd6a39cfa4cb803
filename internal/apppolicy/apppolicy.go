// Package apppolicy translates per-application monitor state into
// CPU/IO weight and pushes it to the service manager.
package apppolicy

import (
	"log/slog"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"

	"github.com/uresourced/uresourced/internal/appmonitor"
	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/config"
)

// unitWriter is satisfied by *sdbus.Conn's session-bus connection; the
// user daemon's policy engine always calls with runtime=true.
type unitWriter interface {
	SetUnitProperties(unit string, runtime bool, properties ...sdbus.Property) error
}

// Policy subscribes to an appmonitor.Monitor's changed callback and keeps
// each application unit's CPU/IO weight in sync with its focus and boost
// state.
type Policy struct {
	logger  *slog.Logger
	cfg     config.AppBoost
	units   unitWriter
	monitor *appmonitor.Monitor
}

// New builds a Policy. units may be nil until the session-bus proxy
// becomes ready; HandleChanged is a no-op while it is, matching the
// original's "if proxy ready" guard.
func New(logger *slog.Logger, cfg config.AppBoost, units unitWriter, monitor *appmonitor.Monitor) *Policy {
	p := &Policy{logger: logger, cfg: cfg, units: units, monitor: monitor}

	monitor.Subscribe(p.HandleChanged)

	return p
}

// HandleChanged computes the effective weight for app and, if the
// service-manager proxy is ready, pushes it.
func (p *Policy) HandleChanged(app appmonitor.AppInfo) {
	cpu, io := p.weights(app)

	if p.units == nil {
		return
	}

	props := []sdbus.Property{
		{Name: "CPUWeight", Value: dbus.MakeVariant(uint64(cpu))},
		{Name: "IOWeight", Value: dbus.MakeVariant(uint64(io))},
	}

	if err := p.units.SetUnitProperties(app.Name, true, props...); err != nil {
		p.logger.Warn("SetUnitProperties failed", "unit", app.Name, "err", err)
	}
}

// weights derives the effective CPU/IO weight for app: active weight
// when currently focused (Timestamp == -1), default weight otherwise,
// plus the configured boost increment when any boost flag is set.
func (p *Policy) weights(app appmonitor.AppInfo) (cpu, io cgroup.Weight) {
	cpu, io = p.cfg.DefaultCPUWeight, p.cfg.DefaultIOWeight

	if app.Timestamp == -1 {
		cpu, io = p.cfg.ActiveCPUWeight, p.cfg.ActiveIOWeight
	}

	if app.Boosted != appmonitor.BoostNone {
		cpu += p.cfg.BoostCPUWeightInc
		io += p.cfg.BoostIOWeightInc
	}

	return cpu, io
}

// Stop unwinds every active/boosted app back to its resting weight
// (appmonitor.Monitor.ResetAllApps re-emits changed for each, which
// HandleChanged turns into a final SetUnitProperties), then waits for
// flush to drain the outbound bus queue before returning, ensuring the
// reset lands before the process exits.
func (p *Policy) Stop(flush func()) {
	p.monitor.ResetAllApps()

	if flush != nil {
		flush()
	}
}
