package cgroupify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/uresourced/uresourced/internal/cgroup"
)

const inotifyModify = unix.IN_MODIFY

// splitter performs the per-PID and per-subgroup split algorithm against
// one unit's cgroup leaf. It only needs to register/cancel reap watches;
// correlating a fired watch descriptor back to its child path is the
// owning Manager's job, since that's where the event-loop select lives.
type splitter struct {
	logger *slog.Logger
	watch  watchRegistrar
}

// watchRegistrar abstracts inotify.Watcher so tests can run the split
// algorithm against a fake that records registrations instead of a real
// kernel watch.
type watchRegistrar interface {
	Add(path string, mask uint32) (int32, error)
	Remove(wd int32) error
}

func newSplitter(logger *slog.Logger, watch watchRegistrar) *splitter {
	return &splitter{logger: logger, watch: watch}
}

// moveOut performs the four-step per-PID split: mkdir a child named
// after the PID under dir, register a reap watch on its cgroup.events,
// write the PID into dir/cgroup.procs, then immediately attempt rmdir
// (the process may already have exited, in which case the child is
// empty and the watch is cancelled synchronously).
func (s *splitter) moveOut(dir string, pid int) (childWd int32, childPath string, err error) {
	childPath = filepath.Join(dir, strconv.Itoa(pid))

	if err := os.Mkdir(childPath, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, "", nil
		}

		return 0, "", fmt.Errorf("mkdir %s: %w", childPath, err)
	}

	wd, watchErr := s.watch.Add(filepath.Join(childPath, "cgroup.events"), inotifyModify)
	if watchErr != nil {
		s.logger.Warn("failed to watch cgroup.events, child will not be reaped on exit", "path", childPath, "err", watchErr)
	}

	procsPath := filepath.Join(dir, "cgroup.procs")

	if err := writePID(procsPath, pid); err != nil {
		return wd, childPath, fmt.Errorf("writing %d to %s: %w", pid, procsPath, err)
	}

	if s.tryReap(childPath) {
		if watchErr == nil {
			_ = s.watch.Remove(wd)
		}

		return 0, "", nil
	}

	return wd, childPath, nil
}

// tryReap attempts to rmdir path, reporting success for both the
// directory actually being removed and it already being gone.
func (s *splitter) tryReap(path string) bool {
	err := s.rmdir(path)

	return err == nil
}

// rmdir attempts to remove path, treating "already gone" as success and
// returning any other error (including EBUSY, the normal "still has
// processes in it" case) for the caller to act on.
func (s *splitter) rmdir(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// writePID writes a process ID to a cgroup.procs-style file, treating
// ESRCH (the process has already exited) as success.
func writePID(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(pid))
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	return nil
}

// splitDir reads dir/cgroup.procs and moves every listed PID into its
// own per-PID child, repeating until a full pass observes no PIDs (the
// file may refill mid-pass due to forks). ownName, when non-empty, is
// skipped so a subgroup scan never tries to move itself.
func (s *splitter) splitDir(dir, ownName string) {
	for {
		pids, err := readProcs(filepath.Join(dir, "cgroup.procs"))
		if err != nil {
			s.logger.Warn("failed to read cgroup.procs", "dir", dir, "err", err)

			return
		}

		moved := 0

		for _, pid := range pids {
			if strconv.Itoa(pid) == ownName {
				continue
			}

			if _, _, err := s.moveOut(dir, pid); err != nil {
				s.logger.Warn("failed to split pid out of leaf", "dir", dir, "pid", pid, "err", err)

				continue
			}

			moved++
		}

		if moved == 0 {
			return
		}
	}
}

func readProcs(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pids []int

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		pid, err := cgroup.ParsePID(line)
		if err != nil {
			continue
		}

		pids = append(pids, pid)
	}

	return pids, nil
}

// childDirs lists the immediate, non-hidden child directories of dir,
// the set the periodic rescan re-splits on each tick.
func childDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dirs []string

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		dirs = append(dirs, e.Name())
	}

	return dirs, nil
}
