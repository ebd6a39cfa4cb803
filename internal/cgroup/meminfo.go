package cgroup

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// AvailableRAM returns the total system memory in bytes, used as the
// basis for resolving a configured "N%" memory budget. Grounded on the
// original's get_available_ram (a raw scan of /proc/meminfo for
// "MemTotal:"), replaced here with prometheus/procfs's typed Meminfo
// reader — the same library the teacher's own exporter collectors
// depend on — rather than hand-rolling the scan.
func AvailableRAM() (uint64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, fmt.Errorf("opening procfs: %w", err)
	}

	info, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}

	if info.MemTotal == nil {
		return 0, fmt.Errorf("meminfo has no MemTotal field")
	}

	return *info.MemTotal * 1024, nil
}
