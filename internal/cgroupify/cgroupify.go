// Package cgroupify implements the cgroupify helper: given one systemd
// scope or service unit, it splits every process currently in that
// unit's cgroup leaf into its own per-PID child cgroup, so sibling
// processes stop sharing memory-controller accounting, then keeps doing
// so for new arrivals on a periodic timer until the leaf is empty.
package cgroupify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/uresourced/uresourced/internal/inotify"
)

// updateDelay and updateAccuracy match §4.7's periodic rescan cadence.
const (
	updateDelay    = 1 * time.Second
	updateAccuracy = 500 * time.Millisecond
)

// Manager runs the startup split and the periodic rescan loop for one
// resolved unit root.
type Manager struct {
	logger *slog.Logger
	root   string

	watcher *inotify.Watcher
	split   *splitter

	// reapWatches maps an inotify watch descriptor to the child cgroup
	// path it was registered against, so a fired MODIFY event can be
	// turned back into an rmdir attempt. Owned exclusively by the Run
	// goroutine — never touched from the inotify reader goroutine.
	reapWatches map[int32]string
}

// New opens an inotify instance and prepares a Manager for root, the
// unit's resolved absolute cgroup leaf directory.
func New(logger *slog.Logger, root string) (*Manager, error) {
	w, err := inotify.New()
	if err != nil {
		return nil, fmt.Errorf("creating inotify instance: %w", err)
	}

	m := &Manager{
		logger:      logger,
		root:        root,
		watcher:     w,
		reapWatches: map[int32]string{},
	}
	m.split = newSplitter(logger, trackingRegistrar{m})

	return m, nil
}

// trackingRegistrar adapts *inotify.Watcher to watchRegistrar while
// recording each new watch's child path in the owning Manager, so Run's
// select loop can resolve a fired event back to a directory.
type trackingRegistrar struct{ m *Manager }

func (t trackingRegistrar) Add(path string, mask uint32) (int32, error) {
	wd, err := t.m.watcher.Add(path, mask)
	if err != nil {
		return 0, err
	}

	t.m.reapWatches[wd] = filepath.Dir(path)

	return wd, nil
}

func (t trackingRegistrar) Remove(wd int32) error {
	delete(t.m.reapWatches, wd)

	return t.m.watcher.Remove(wd)
}

// Run performs the startup sequence (initial split, enable the memory
// controller, start the periodic rescan) and then processes reap events
// and rescan ticks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.split.splitDir(m.root, "")

	if err := enableMemoryController(m.root); err != nil {
		m.logger.Warn("failed to enable memory controller in subtree", "root", m.root, "err", err)
	}

	timer := time.NewTimer(updateDelay)
	defer timer.Stop()
	defer m.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-m.watcher.Events():
			m.handleReapEvent(ev)

		case <-timer.C:
			if m.rescan() {
				return nil
			}

			// Rearmed from a freshly-sampled monotonic instant at the end
			// of this tick's work, not from a fixed origin, so the
			// cadence resists drift instead of compounding it.
			timer.Reset(updateDelay)
		}
	}
}

func (m *Manager) handleReapEvent(ev inotify.Event) {
	child, ok := m.reapWatches[ev.Wd]
	if !ok {
		return
	}

	err := m.split.rmdir(child)
	switch {
	case err == nil:
		_ = m.watcher.Remove(ev.Wd)
		delete(m.reapWatches, ev.Wd)
	case errors.Is(err, unix.EBUSY):
		// still has processes in it; keep watching for the next MODIFY.
	default:
		m.logger.Warn("disabling reap watch after unexpected rmdir error", "path", child, "err", err)

		_ = m.watcher.Remove(ev.Wd)
		delete(m.reapWatches, ev.Wd)
	}
}

// rescan re-splits every immediate, non-hidden child of root, catching
// processes that forked back into the leaf between ticks. It reports
// true once no child directories remain, so Run can exit cleanly.
func (m *Manager) rescan() bool {
	dirs, err := childDirs(m.root)
	if err != nil {
		m.logger.Warn("failed to list cgroup children", "root", m.root, "err", err)

		return false
	}

	if len(dirs) == 0 {
		return true
	}

	for _, name := range dirs {
		m.split.splitDir(filepath.Join(m.root, name), name)
	}

	return false
}

func enableMemoryController(root string) error {
	return os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte("+memory"), 0)
}
