package cgroup

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Root is the unified-hierarchy mountpoint.
const Root = "/sys/fs/cgroup"

// UserSlicePath returns the cgroup path of a user's top-level slice,
// e.g. user.slice/user-1000.slice.
func UserSlicePath(uid int) string {
	return fmt.Sprintf("user.slice/user-%d.slice", uid)
}

// UserServicePath returns the cgroup path of a user's systemd --user
// manager service, e.g. user.slice/user-1000.slice/user@1000.service.
func UserServicePath(uid int) string {
	return UserSlicePath(uid) + fmt.Sprintf("/user@%d.service", uid)
}

// AppSlicePath returns the cgroup path of a user's application slice, the
// subtree the app monitor watches.
func AppSlicePath(uid int) string {
	return UserServicePath(uid) + "/app.slice"
}

// UserHasGraphicalService reports whether the user's systemd --user
// instance manages its own uresourced.service unit — i.e. the graphical
// session was brought up through the service manager rather than some
// other mechanism, which changes whether user@<uid>.service itself
// should be promoted to the active allocation.
func UserHasGraphicalService(uid int) bool {
	_, err := os.Stat(Root + "/" + UserServicePath(uid) + "/uresourced.service")

	return err == nil
}

// UnitCgroupPathFromPID resolves the absolute cgroup path of the systemd
// unit owning pid, truncated to that unit's own leaf (any subpath the
// process has split itself into, e.g. via cgroupify, is trimmed away).
//
// Grounded on the original's get_unit_cgroup_path_from_pid, which reads
// /proc/<pid>/cgroup (via sd_pid_get_cgroup) to get the process's cgroup
// path, derives the owning user-unit name from it (sd_pid_get_user_unit),
// then truncates the path string right after the matched unit name so
// any deeper subpath (e.g. a cgroupify-created per-PID child) is
// dropped. This module reads /proc/<pid>/cgroup via procfs rather than
// binding libsystemd's sd-login, since on a unified hierarchy the two
// agree: there is exactly one line, "0::<path>".
func UnitCgroupPathFromPID(proc procfs.FS, pid int) (string, error) {
	p, err := proc.Proc(pid)
	if err != nil {
		return "", fmt.Errorf("opening /proc/%d: %w", pid, err)
	}

	cgroups, err := p.Cgroups()
	if err != nil {
		return "", fmt.Errorf("reading cgroup of pid %d: %w", pid, err)
	}

	var relPath string

	for _, c := range cgroups {
		if c.HierarchyID == 0 {
			relPath = c.Path

			break
		}
	}

	if relPath == "" {
		return "", fmt.Errorf("pid %d has no unified-hierarchy cgroup entry", pid)
	}

	full := Root + relPath

	unit := UnitNameFromPath(full)
	if unit == "" {
		return full, nil
	}

	idx := strings.Index(full, unit)
	if idx < 0 {
		return full, nil
	}

	return full[:idx+len(unit)], nil
}

// UnitNameFromPath derives the unit (service or scope) name from an
// absolute cgroup path by locating the user@*.service segment and
// taking the first subsequent path component that is not itself a
// slice, stripping a leading underscore systemd sometimes adds to
// escape a unit name.
func UnitNameFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	for i, seg := range segments {
		if !strings.HasPrefix(seg, "user@") || !strings.HasSuffix(seg, ".service") {
			continue
		}

		for _, next := range segments[i+1:] {
			if strings.HasSuffix(next, ".slice") {
				continue
			}

			return strings.TrimPrefix(next, "_")
		}
	}

	return ""
}

// IsAppLeafCandidate reports whether path (rooted at the given app slice
// root) is a candidate for an AppInfo entry: it must be strictly inside
// the slice root and must not itself be a further *.slice aggregation
// unit. The slice root and any nested slice are still watched for
// recursive discovery, but never get an AppInfo of their own.
func IsAppLeafCandidate(appSliceRoot, path string) bool {
	if path == appSliceRoot {
		return false
	}

	if !strings.HasPrefix(path, appSliceRoot+"/") {
		return false
	}

	return !strings.HasSuffix(path, ".slice")
}

// ParsePID parses the decimal PID at the tail of a cgroup.procs line.
func ParsePID(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
