package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/uresourced/uresourced/internal/cgroup"
)

// dropinDir and dropinFile mirror the original's runtime drop-in: a
// single generated [Slice] fragment for session.slice, regenerated in
// place rather than accumulated.
const (
	dropinDir  = "/run/systemd/user/session.slice.d"
	dropinFile = "99-uresourced.conf"
)

// writeSessionSliceDropin regenerates the runtime drop-in that applies
// the SessionSlice allocation to every user's session.slice. MemoryMin
// and MemoryLow are always written (0 is a meaningful "no floor");
// CPUWeight and IOWeight are omitted entirely when Ignore, so systemd's
// own default applies instead of a literal "ignore" that has no meaning
// to it.
func writeSessionSliceDropin(dir string, a cgroup.Allocation) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating drop-in directory: %w", err)
	}

	contents := "[Slice]\n"
	contents += fmt.Sprintf("MemoryMin=%d\n", a.MemoryMin)
	contents += fmt.Sprintf("MemoryLow=%d\n", a.MemoryLow)

	if !a.CPUWeight.IsIgnore() {
		contents += fmt.Sprintf("CPUWeight=%d\n", a.CPUWeight)
	}

	if !a.IOWeight.IsIgnore() {
		contents += fmt.Sprintf("IOWeight=%d\n", a.IOWeight)
	}

	path := filepath.Join(dir, dropinFile)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("writing drop-in: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("installing drop-in: %w", err)
	}

	return nil
}
