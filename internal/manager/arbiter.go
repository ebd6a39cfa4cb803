// Package manager implements the system arbiter: the bus-name-owning
// daemon that reconciles user-slice and user-service cgroup allocations
// against the set of graphically-active users reported by the login
// watcher.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/uresourced/uresourced/internal/config"
	"github.com/uresourced/uresourced/internal/login"
	"github.com/uresourced/uresourced/internal/systemdutil"
)

const (
	busName = "org.freedesktop.UResourced"
	iface   = "org.freedesktop.UResourced"
)

var objPath = dbus.ObjectPath("/org/freedesktop/UResourced")

// Arbiter owns the org.freedesktop.UResourced bus name, watches logind
// for graphical-session changes, and keeps systemd's per-user cgroup
// properties in sync with them.
type Arbiter struct {
	logger *slog.Logger
	cfg    config.ArbiterConfig

	watcher             *login.Watcher
	units               unitWriter
	busConn             *dbus.Conn
	hasGraphicalService graphicalServiceChecker

	mu           sync.Mutex
	prev         login.Snapshot
	nextSnapshot login.Snapshot
	pending      atomic.Int64
	wg           sync.WaitGroup

	updates chan struct{}
}

// New builds an Arbiter. busConn is the raw godbus connection used both
// for name ownership and for exporting the Update() method; units is the
// typed systemd-manager client used for SetUnitProperties calls. Both
// connections point at the system bus in production; tests substitute
// fakes for each independently.
func New(logger *slog.Logger, cfg config.ArbiterConfig, watcher *login.Watcher, units unitWriter, busConn *dbus.Conn, hasGraphicalService graphicalServiceChecker) *Arbiter {
	return &Arbiter{
		logger:              logger,
		cfg:                 cfg,
		watcher:             watcher,
		units:               units,
		busConn:             busConn,
		hasGraphicalService: hasGraphicalService,
		updates:             make(chan struct{}, 1),
	}
}

// Run acquires the bus name, exports the Update object, performs an
// initial reconciliation, then processes login-watcher snapshots and
// Update() requests until ctx is cancelled. On return the arbiter has
// demoted every known user and released the bus name.
func (a *Arbiter) Run(ctx context.Context) error {
	if err := a.acquireName(); err != nil {
		return fmt.Errorf("acquiring bus name: %w", err)
	}
	defer a.releaseName()

	if err := a.export(); err != nil {
		return fmt.Errorf("exporting object: %w", err)
	}

	a.watcher.Subscribe(func(snap login.Snapshot) {
		select {
		case a.updates <- struct{}{}:
		default:
		}
		a.mu.Lock()
		a.nextSnapshot = snap
		a.mu.Unlock()
	})

	go a.watcher.Run(ctx)

	a.reconcile(false)

	for {
		select {
		case <-ctx.Done():
			a.stop()

			return nil
		case <-a.updates:
			a.reconcile(false)
		}
	}
}

func (a *Arbiter) acquireName() error {
	reply, err := a.busConn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already owned", busName)
	}

	return nil
}

func (a *Arbiter) releaseName() {
	if _, err := a.busConn.ReleaseName(busName); err != nil {
		a.logger.Warn("failed to release bus name", "err", err)
	}
}

func (a *Arbiter) export() error {
	if err := a.busConn.Export(a, objPath, iface); err != nil {
		return err
	}

	return a.busConn.Export(introspect.NewIntrospectable(&introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    iface,
				Methods: []introspect.Method{{Name: "Update"}},
			},
		},
	}), objPath, "org.freedesktop.DBus.Introspectable")
}

// Update is the exported D-Bus method: force a full reconciliation pass
// even for users whose graphical status did not change, called once by
// the per-user daemon at startup so a login that raced the login
// watcher still gets its allocation.
func (a *Arbiter) Update() *dbus.Error {
	a.mu.Lock()
	snap := a.watcher.Snapshot()
	a.mu.Unlock()

	a.applyReconcile(snap, true)

	return nil
}

func (a *Arbiter) reconcile(force bool) {
	a.mu.Lock()
	snap := a.nextSnapshot
	a.mu.Unlock()

	if snap.All == nil {
		snap = a.watcher.Snapshot()
	}

	a.applyReconcile(snap, force)
}

func (a *Arbiter) applyReconcile(next login.Snapshot, force bool) {
	a.mu.Lock()
	prev := a.prev
	a.mu.Unlock()

	writes := reconcile(prev, next, a.cfg, force, a.hasGraphicalService)

	if err := writeSessionSliceDropin(dropinDir, activeUserAllocation(a.cfg.SessionSlice)); err != nil {
		a.logger.Warn("failed to write session.slice drop-in", "err", err)
	}

	a.dispatch(writes)

	a.mu.Lock()
	a.prev = next
	a.mu.Unlock()
}

// dispatch issues every write in writes in order, on a single goroutine,
// so a slow or wedged bus call never blocks the event loop while still
// guaranteeing the ordering invariants reconcile() built writes to
// satisfy (e.g. the user.slice ceiling raised before any per-user call
// on an increase, lowered after them on a decrease) — a per-write
// goroutine gives no such guarantee, since the runtime is free to
// schedule them in any order. pending counts outstanding calls for
// PendingCalls; wg is what Flush/stop wait on.
func (a *Arbiter) dispatch(writes []write) {
	if len(writes) == 0 {
		return
	}

	a.pending.Add(int64(len(writes)))
	a.wg.Add(1)

	go func(writes []write) {
		defer a.wg.Done()

		for _, w := range writes {
			props := systemdutil.UnitProperties(w.Allocation)
			if err := a.units.SetUnitProperties(w.Unit, w.Runtime, props...); err != nil {
				a.logger.Warn("SetUnitProperties failed", "unit", w.Unit, "err", err)
			}

			a.pending.Add(-1)
		}
	}(writes)
}

// Flush blocks until every outstanding SetUnitProperties call issued so
// far has returned.
func (a *Arbiter) Flush() {
	a.wg.Wait()
}

// PendingCalls reports the number of SetUnitProperties calls currently
// in flight, for diagnostics.
func (a *Arbiter) PendingCalls() int64 {
	return a.pending.Load()
}

func (a *Arbiter) stop() {
	a.mu.Lock()
	all := a.prev.All
	a.mu.Unlock()

	a.dispatch(stopWrites(all))
	a.Flush()
}
