// Package login implements the debounced login-state watcher consumed by
// the system arbiter: a sorted snapshot of every logged-in user and of
// the subset with an active session on a graphical-capable seat.
package login

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	loginBusName    = "org.freedesktop.login1"
	managerIface    = "org.freedesktop.login1.Manager"
	seatIface       = "org.freedesktop.login1.Seat"
	sessionIface    = "org.freedesktop.login1.Session"
	propertiesIface = "org.freedesktop.DBus.Properties"
	debounce        = 100 * time.Millisecond
)

var loginObjectPath = dbus.ObjectPath("/org/freedesktop/login1")

// Snapshot pairs the set of all logged-in users with the subset actively
// using a graphical seat. graphical_users is always a subset of all_users.
type Snapshot struct {
	All       UserSet
	Graphical UserSet
}

// UserSet is a sorted, de-duplicated set of UIDs supporting ordered diff
// against a previous snapshot via binary search.
type UserSet []int

// Contains reports whether uid is present, via binary search; the set
// must be sorted (every UserSet returned by this package is).
func (s UserSet) Contains(uid int) bool {
	i := sort.SearchInts(s, uid)

	return i < len(s) && s[i] == uid
}

func newUserSet(uids map[int]struct{}) UserSet {
	s := make(UserSet, 0, len(uids))
	for uid := range uids {
		s = append(s, uid)
	}

	sort.Ints(s)

	return s
}

// Watcher maintains a debounced Snapshot by polling logind over D-Bus on
// every relevant signal.
type Watcher struct {
	conn   *dbus.Conn
	logger *slog.Logger

	mu      chanMutex
	current Snapshot
	subs    []func(Snapshot)
	timer   *time.Timer
	signals chan *dbus.Signal
}

// chanMutex is a 1-buffered channel used as a mutex (Lock blocks until
// the token is available) so the
// watcher never needs a sync.Mutex despite being touched from both the
// signal-dispatch goroutine (refresh/resetDebounce, via the debounce
// timer's own goroutine) and callers of Snapshot/Subscribe on another
// goroutine entirely (e.g. manager.Arbiter.Update); it guards current
// and subs in addition to timer, and all three are vanishingly brief
// critical sections over plain field access.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}

	return c
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// New connects to the system bus and subscribes to the logind signals
// that indicate the login state may have changed.
func New(logger *slog.Logger) (*Watcher, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}

	w := &Watcher{
		conn:    conn,
		logger:  logger,
		mu:      newChanMutex(),
		signals: make(chan *dbus.Signal, 32),
	}

	call := conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',sender='"+loginBusName+"',interface='"+managerIface+"'",
	)
	if call.Err != nil {
		return nil, fmt.Errorf("subscribing to login1 signals: %w", call.Err)
	}

	call = conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',sender='"+loginBusName+"',interface='"+propertiesIface+"',member='PropertiesChanged'",
	)
	if call.Err != nil {
		return nil, fmt.Errorf("subscribing to login1 property changes: %w", call.Err)
	}

	conn.Signal(w.signals)

	return w, nil
}

// Subscribe registers callback to be invoked with the new Snapshot every
// time a debounced login-state change settles.
func (w *Watcher) Subscribe(callback func(Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subs = append(w.subs, callback)
}

// Snapshot returns the most recently computed snapshot.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.current
}

// Run processes logind signals until ctx is cancelled, debouncing into
// snapshot recomputation. It performs one synchronous initial snapshot
// (notifying subscribers) before it starts processing signals.
func (w *Watcher) Run(ctx context.Context) {
	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			if w.timer != nil {
				w.timer.Stop()
			}

			return
		case <-w.signals:
			w.resetDebounce(ctx)
		}
	}
}

func (w *Watcher) resetDebounce(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(debounce, func() {
		w.refresh(ctx)
	})
}

func (w *Watcher) refresh(ctx context.Context) {
	snap, err := w.computeSnapshot(ctx)
	if err != nil {
		w.logger.Warn("failed to enumerate login state, failing closed", "err", err)

		snap = Snapshot{}
	}

	w.mu.Lock()
	w.current = snap
	subs := append([]func(Snapshot){}, w.subs...)
	w.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

type seatRow struct {
	ID   string
	Path dbus.ObjectPath
}

type userRow struct {
	UID  uint32
	Name string
	Path dbus.ObjectPath
}

// computeSnapshot mirrors the original's logind_quiet: enumerate seats,
// for each graphical seat enumerate its sessions and keep the active
// ones' owning UIDs, then separately enumerate every user with a
// session for all_users.
func (w *Watcher) computeSnapshot(ctx context.Context) (Snapshot, error) {
	manager := w.conn.Object(loginBusName, loginObjectPath)

	var seats []seatRow
	if err := manager.CallWithContext(ctx, managerIface+".ListSeats", 0).Store(&seats); err != nil {
		return Snapshot{}, fmt.Errorf("ListSeats: %w", err)
	}

	graphical := map[int]struct{}{}

	for _, seat := range seats {
		isGraphical, err := w.boolProperty(ctx, seat.Path, seatIface, "CanGraphical")
		if err != nil || !isGraphical {
			continue
		}

		var sessions []struct {
			ID   string
			Path dbus.ObjectPath
		}

		if err := w.getProperty(ctx, seat.Path, seatIface, "Sessions", &sessions); err != nil {
			continue
		}

		for _, session := range sessions {
			active, err := w.boolProperty(ctx, session.Path, sessionIface, "Active")
			if err != nil || !active {
				continue
			}

			uid, err := w.userProperty(ctx, session.Path)
			if err != nil {
				continue
			}

			graphical[uid] = struct{}{}
		}
	}

	var users []userRow
	if err := manager.CallWithContext(ctx, managerIface+".ListUsers", 0).Store(&users); err != nil {
		return Snapshot{}, fmt.Errorf("ListUsers: %w", err)
	}

	all := map[int]struct{}{}
	for _, u := range users {
		all[int(u.UID)] = struct{}{}
	}

	for uid := range graphical {
		all[uid] = struct{}{}
	}

	return Snapshot{All: newUserSet(all), Graphical: newUserSet(graphical)}, nil
}

func (w *Watcher) userProperty(ctx context.Context, sessionPath dbus.ObjectPath) (int, error) {
	var user struct {
		UID  uint32
		Path dbus.ObjectPath
	}

	if err := w.getProperty(ctx, sessionPath, sessionIface, "User", &user); err != nil {
		return 0, err
	}

	return int(user.UID), nil
}

func (w *Watcher) boolProperty(ctx context.Context, path dbus.ObjectPath, iface, name string) (bool, error) {
	var v bool
	if err := w.getProperty(ctx, path, iface, name, &v); err != nil {
		return false, err
	}

	return v, nil
}

func (w *Watcher) getProperty(ctx context.Context, path dbus.ObjectPath, iface, name string, dest any) error {
	obj := w.conn.Object(loginBusName, path)

	var variant dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesIface+".Get", 0, iface, name).Store(&variant); err != nil {
		return err
	}

	return dbus.Store([]any{variant.Value()}, dest)
}
