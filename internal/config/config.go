// Package config loads the INI-style uresourced.conf shared by the
// system arbiter and the user-session daemon, each reading the subset of
// groups it needs.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/uresourced/uresourced/internal/cgroup"
	"gopkg.in/ini.v3"
)

// SysconfDir is the system-wide configuration directory, overridable at
// build time the way the original's SYSCONFDIR is.
var SysconfDir = "/etc"

// UserAllocation holds the four fields shared by ActiveUser/SessionSlice
// groups: two memory budgets and two weights.
type UserAllocation struct {
	MemoryMin uint64
	MemoryLow uint64
	CPUWeight cgroup.Weight
	IOWeight  cgroup.Weight
}

// Global holds the per-host ceilings applied across every active user.
type Global struct {
	MaxMemoryMin uint64
	MaxMemoryLow uint64
}

// ArbiterConfig is the subset of uresourced.conf the system arbiter reads.
type ArbiterConfig struct {
	Global       Global
	ActiveUser   UserAllocation
	SessionSlice UserAllocation
}

// AppBoost holds the per-app weight table the policy engine reads.
type AppBoost struct {
	DefaultCPUWeight  cgroup.Weight
	DefaultIOWeight   cgroup.Weight
	ActiveCPUWeight   cgroup.Weight
	ActiveIOWeight    cgroup.Weight
	BoostCPUWeightInc cgroup.Weight
	BoostIOWeightInc  cgroup.Weight
}

// defaultUserAllocation matches the original's built-in fallback before
// any config file is consulted: no protection, weights left alone.
func defaultUserAllocation() UserAllocation {
	return UserAllocation{
		MemoryMin: 0,
		MemoryLow: 0,
		CPUWeight: cgroup.WeightIgnore,
		IOWeight:  cgroup.WeightIgnore,
	}
}

// LoadArbiterConfig reads SYSCONFDIR/uresourced.conf. A missing or
// unparsable file is not an error: every field keeps its built-in
// default (no memory protection, weights left as WeightIgnore) and
// SessionSlice equals ActiveUser, so the caller proceeds with no
// protection configured,
// matching the original's "log warning, fall back to defaults, continue"
// policy for configuration errors.
func LoadArbiterConfig(logger *slog.Logger) (ArbiterConfig, error) {
	cfg := ArbiterConfig{
		ActiveUser: defaultUserAllocation(),
	}

	availableRAM, err := cgroup.AvailableRAM()
	if err != nil {
		logger.Warn("failed to detect available RAM, percentage memory values will resolve to 0", "err", err)
	}

	path := filepath.Join(SysconfDir, "uresourced.conf")

	file, err := ini.Load(path)
	if err != nil {
		logger.Debug("could not read configuration file, using defaults", "path", path, "err", err)
		cfg.SessionSlice = cfg.ActiveUser

		return cfg, nil
	}

	cfg.Global.MaxMemoryMin = readMemory(logger, file, "Global", "MaxMemoryMin", availableRAM, 0)
	cfg.Global.MaxMemoryLow = readMemory(logger, file, "Global", "MaxMemoryLow", availableRAM, 0)

	cfg.ActiveUser = readUserAllocation(logger, file, "ActiveUser", availableRAM, cfg.ActiveUser)

	// SessionSlice defaults to the ActiveUser value for each field unless
	// explicitly set — the later, intended revision of the original's
	// inconsistent config reader (see design notes).
	cfg.SessionSlice = readUserAllocation(logger, file, "SessionSlice", availableRAM, cfg.ActiveUser)

	return cfg, nil
}

func readUserAllocation(logger *slog.Logger, file *ini.File, group string, availableRAM uint64, fallback UserAllocation) UserAllocation {
	return UserAllocation{
		MemoryMin: readMemory(logger, file, group, "MemoryMin", availableRAM, fallback.MemoryMin),
		MemoryLow: readMemory(logger, file, group, "MemoryLow", availableRAM, fallback.MemoryLow),
		CPUWeight: readWeight(logger, file, group, "CPUWeight", fallback.CPUWeight),
		IOWeight:  readWeight(logger, file, group, "IOWeight", fallback.IOWeight),
	}
}

func readMemory(logger *slog.Logger, file *ini.File, group, key string, availableRAM, fallback uint64) uint64 {
	if !file.Section(group).HasKey(key) {
		return fallback
	}

	raw := file.Section(group).Key(key).String()

	v, err := ParseMemory(raw, availableRAM)
	if err != nil {
		logger.Warn("could not parse memory value, keeping previous value", "group", group, "key", key, "value", raw, "err", err)

		return fallback
	}

	return v
}

func readWeight(logger *slog.Logger, file *ini.File, group, key string, fallback cgroup.Weight) cgroup.Weight {
	if !file.Section(group).HasKey(key) {
		return fallback
	}

	v, err := file.Section(group).Key(key).Int64()
	if err != nil {
		logger.Warn("could not parse weight value, keeping previous value", "group", group, "key", key, "err", err)

		return fallback
	}

	return cgroup.Weight(v)
}

// ConfigSearchPaths returns the ordered list of paths to try for the
// per-app policy configuration: $XDG_CONFIG_HOME (or ~/.config) first,
// falling back to the system-wide location.
func ConfigSearchPaths() []string {
	userConfigDir, err := os.UserConfigDir()

	paths := make([]string, 0, 2)

	if err == nil {
		paths = append(paths, filepath.Join(userConfigDir, "uresourced.conf"))
	}

	paths = append(paths, filepath.Join(SysconfDir, "uresourced.conf"))

	return paths
}

// LoadAppBoostConfig reads the [AppBoost] group from the first readable
// path in ConfigSearchPaths, applying the clamps from the design (weights
// in [1,10000], boost increments in [0, 10000-active]).
func LoadAppBoostConfig(logger *slog.Logger) AppBoost {
	boost := AppBoost{
		DefaultCPUWeight:  100,
		DefaultIOWeight:   100,
		ActiveCPUWeight:   100,
		ActiveIOWeight:    100,
		BoostCPUWeightInc: 0,
		BoostIOWeightInc:  0,
	}

	var file *ini.File

	for _, path := range ConfigSearchPaths() {
		f, err := ini.Load(path)
		if err != nil {
			logger.Debug("could not read app policy configuration, trying next location", "path", path, "err", err)

			continue
		}

		file = f

		break
	}

	if file == nil {
		logger.Warn("no app policy configuration file found, using defaults")

		return boost
	}

	section := file.Section("AppBoost")

	boost.DefaultCPUWeight = readBoostInt(logger, section, "DefaultCPUWeight", boost.DefaultCPUWeight, cgroup.MinWeight, cgroup.MaxWeight)
	boost.DefaultIOWeight = readBoostInt(logger, section, "DefaultIOWeight", boost.DefaultIOWeight, cgroup.MinWeight, cgroup.MaxWeight)
	boost.ActiveCPUWeight = readBoostInt(logger, section, "ActiveCPUWeight", boost.ActiveCPUWeight, cgroup.MinWeight, cgroup.MaxWeight)
	boost.ActiveIOWeight = readBoostInt(logger, section, "ActiveIOWeight", boost.ActiveIOWeight, cgroup.MinWeight, cgroup.MaxWeight)

	boost.BoostCPUWeightInc = readBoostInt(logger, section, "BoostCPUWeightInc", boost.BoostCPUWeightInc, 0, cgroup.MaxWeight-boost.ActiveCPUWeight)
	boost.BoostIOWeightInc = readBoostInt(logger, section, "BoostIOWeightInc", boost.BoostIOWeightInc, 0, cgroup.MaxWeight-boost.ActiveIOWeight)

	return boost
}

func readBoostInt(logger *slog.Logger, section *ini.Section, key string, fallback, lo, hi cgroup.Weight) cgroup.Weight {
	if !section.HasKey(key) {
		return fallback
	}

	v, err := section.Key(key).Int64()
	if err != nil {
		logger.Debug("could not parse app boost key, keeping previous value", "key", key, "err", err)

		return fallback
	}

	w := cgroup.Weight(v)

	if w < lo {
		return lo
	}

	if w > hi {
		return hi
	}

	return w
}
