// Package appmonitor implements the per-user application monitor: a
// recursive filesystem watch over one user's application slice that
// maintains an AppInfo per leaf cgroup and notifies subscribers whenever
// one changes.
package appmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/inotify"
)

// BoostFlags is an OR-composable bitset of the reasons an app is
// currently favored beyond its configured default weight.
type BoostFlags uint8

const (
	BoostNone  BoostFlags = 0
	BoostAudio BoostFlags = 1
	BoostGame  BoostFlags = 2
)

// inactiveSinceXattr is the extended attribute the window-manager side
// writes on an application's cgroup leaf; "xattr::" is GIO's namespace
// prefix for the "user." xattr namespace the kernel actually stores it
// under.
const inactiveSinceXattr = "user.xdg.inactive-since"

const watchMask = unix.IN_ATTRIB | unix.IN_CREATE | unix.IN_DELETE

// AppInfo is the per-application state the policy engine reacts to.
// Timestamp holds the raw xdg.inactive-since value, or -1 meaning
// currently focused.
type AppInfo struct {
	Name      string
	Path      string
	CPUWeight uint64
	IOWeight  uint64
	Timestamp int64
	Boosted   BoostFlags
}

// fsWatcher abstracts *inotify.Watcher so tests can run the registry
// bookkeeping against a fake that never touches a real inotify fd.
type fsWatcher interface {
	Add(path string, mask uint32) (int32, error)
	Remove(wd int32) error
	Events() <-chan inotify.Event
	Errors() <-chan error
	Close() error
}

// Monitor owns the application registry and watch tables for one user's
// application slice. It is single-writer: every method is expected to be
// called from the owning daemon's single event-loop goroutine, per the
// concurrency model's "app registry has exactly one writer" rule.
type Monitor struct {
	logger *slog.Logger
	root   string
	watch  fsWatcher

	watchToPath map[int32]string
	pathToWatch map[string]int32
	registry    map[string]*AppInfo

	subs []func(AppInfo)

	now func() int64
}

// New opens an inotify instance and prepares a Monitor over root, the
// absolute path of the user's application slice
// (.../user@<uid>.service/app.slice).
func New(logger *slog.Logger, root string) (*Monitor, error) {
	w, err := inotify.New()
	if err != nil {
		return nil, fmt.Errorf("creating inotify instance: %w", err)
	}

	return &Monitor{
		logger:      logger,
		root:        root,
		watch:       w,
		watchToPath: map[int32]string{},
		pathToWatch: map[string]int32{},
		registry:    map[string]*AppInfo{},
		now: func() int64 {
			var ts unix.Timespec
			_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)

			return ts.Nano() / 1000
		},
	}, nil
}

// Subscribe registers callback to receive every AppInfo that changes
// after Start, in addition to any toggled directly via ToggleBoost.
func (m *Monitor) Subscribe(callback func(AppInfo)) {
	m.subs = append(m.subs, callback)
}

// GetAppInfo returns the current state for path, if tracked.
func (m *Monitor) GetAppInfo(path string) (AppInfo, bool) {
	info, ok := m.registry[path]
	if !ok {
		return AppInfo{}, false
	}

	return *info, true
}

// ResetAllApps unwinds every app that is currently active or boosted
// back to its resting state and re-emits changed for each, used on
// shutdown so the policy engine's final writes undo every outstanding
// boost.
func (m *Monitor) ResetAllApps() {
	now := m.now()

	for _, info := range m.registry {
		if info.Timestamp != -1 && info.Boosted == BoostNone {
			continue
		}

		info.Timestamp = now
		info.Boosted = BoostNone

		m.emit(*info)
	}
}

// ToggleBoost sets or clears flag on the AppInfo for path, creating and
// refreshing it first if not yet tracked (the audio and game sources
// discover applications out of filesystem-watch order, from PIDs). It
// reports false if path is not a valid application leaf.
func (m *Monitor) ToggleBoost(path string, flag BoostFlags, set bool) (AppInfo, bool) {
	if !cgroup.IsAppLeafCandidate(m.root, path) {
		return AppInfo{}, false
	}

	info := m.refresh(path)

	if set {
		info.Boosted |= flag
	} else {
		info.Boosted &^= flag
	}

	m.emit(*info)

	return *info, true
}

// Start performs the initial recursive discovery watch over root. Call
// it once before consuming WatchEvents.
func (m *Monitor) Start() error {
	if err := m.watchRecursive(m.root); err != nil {
		return fmt.Errorf("watching %s: %w", m.root, err)
	}

	return nil
}

// WatchEvents exposes the raw decoded filesystem events for a caller
// that multiplexes them into a larger event loop alongside other event
// sources (audio, game-mode). Pass each one to HandleEvent.
func (m *Monitor) WatchEvents() <-chan inotify.Event { return m.watch.Events() }

// WatchErrors exposes the watch's fatal read-error channel.
func (m *Monitor) WatchErrors() <-chan error { return m.watch.Errors() }

// HandleEvent processes one decoded filesystem event.
func (m *Monitor) HandleEvent(ev inotify.Event) { m.handleEvent(ev) }

// Close releases the underlying inotify file descriptor.
func (m *Monitor) Close() error { return m.watch.Close() }

// Run is the standalone convenience loop: Start, then HandleEvent every
// WatchEvents arrival until ctx is cancelled. A daemon that also
// consumes other event sources on the same goroutine should call Start/
// WatchEvents/HandleEvent directly instead, so everything shares one
// select (see cmd/uresourced-user).
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	defer m.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.WatchEvents():
			m.HandleEvent(ev)
		case err := <-m.WatchErrors():
			m.logger.Warn("inotify read failed", "err", err)
		}
	}
}

// watchRecursive registers a watch on dir, refreshes its AppInfo if it
// is a leaf candidate, and recurses into every child directory,
// discovery-order matching the original's "watch before enumerate" so a
// directory created mid-walk is never missed.
func (m *Monitor) watchRecursive(dir string) error {
	wd, err := m.watch.Add(dir, watchMask)
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	m.watchToPath[wd] = dir
	m.pathToWatch[dir] = wd

	m.refresh(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("failed to enumerate directory during discovery", "dir", dir, "err", err)

		return nil
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		child := filepath.Join(dir, e.Name())

		if err := m.watchRecursive(child); err != nil {
			m.logger.Warn("failed to watch child during discovery", "dir", child, "err", err)
		}
	}

	return nil
}

func (m *Monitor) handleEvent(ev inotify.Event) {
	parent, ok := m.watchToPath[ev.Wd]
	if !ok {
		return
	}

	target := parent
	if ev.Name != "" {
		target = filepath.Join(parent, ev.Name)
	}

	isDir := ev.Mask&unix.IN_ISDIR != 0

	switch {
	case ev.Mask&unix.IN_ATTRIB != 0 && isDir:
		if info := m.refresh(target); info != nil {
			m.emit(*info)
		}
	case ev.Mask&unix.IN_CREATE != 0 && isDir:
		if err := m.watchRecursive(target); err != nil {
			m.logger.Warn("failed to watch newly created directory", "dir", target, "err", err)
		}
	case ev.Mask&unix.IN_DELETE != 0 && isDir:
		m.dropPath(target)
	}
}

// refresh reads path's weight files and inactive-since xattr and
// populates or updates its AppInfo, returning nil if path is not a leaf
// candidate (the slice root and nested *.slice units are watched but
// never get an entry).
func (m *Monitor) refresh(path string) *AppInfo {
	if !cgroup.IsAppLeafCandidate(m.root, path) {
		return nil
	}

	cpu := cgroup.ReadWeightFile(filepath.Join(path, "cpu.weight"))
	io := cgroup.ReadWeightFile(filepath.Join(path, "io.weight"))
	ts, hasTimestamp := readInactiveSince(path)

	info, tracked := m.registry[path]
	if !tracked {
		info = &AppInfo{
			Name:      cgroup.UnitNameFromPath(path),
			Path:      path,
			Timestamp: -1,
		}
		m.registry[path] = info
	}

	info.CPUWeight = cpu
	info.IOWeight = io

	if hasTimestamp {
		info.Timestamp = ts
	}
	// An absent or unreadable xattr never overwrites a timestamp already
	// on record; only first creation defaults it to -1.

	return info
}

func (m *Monitor) dropPath(path string) {
	m.dropWatch(path)

	prefix := path + "/"

	for p := range m.pathToWatch {
		if strings.HasPrefix(p, prefix) {
			m.dropWatch(p)
		}
	}

	for p := range m.registry {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.registry, p)
		}
	}
}

func (m *Monitor) dropWatch(path string) {
	wd, ok := m.pathToWatch[path]
	if !ok {
		return
	}

	_ = m.watch.Remove(wd)

	delete(m.pathToWatch, path)
	delete(m.watchToPath, wd)
}

func (m *Monitor) emit(info AppInfo) {
	for _, sub := range m.subs {
		sub(info)
	}
}

// readInactiveSince reads the xdg.inactive-since extended attribute as a
// signed decimal integer. Its absence or any read/parse failure reports
// ok=false, meaning "treat as focused".
func readInactiveSince(path string) (value int64, ok bool) {
	buf := make([]byte, 32)

	n, err := unix.Getxattr(path, inactiveSinceXattr, buf)
	if err != nil {
		return 0, false
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(buf[:n])), 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
