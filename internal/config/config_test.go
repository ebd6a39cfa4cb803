package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadArbiterConfigSessionSliceFallsBackToActiveUser(t *testing.T) {
	dir := t.TempDir()
	SysconfDir = dir

	contents := `[ActiveUser]
MemoryMin = 1G
MemoryLow = 512M
CPUWeight = 500
IOWeight = 500

[SessionSlice]
MemoryMin = 2G
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uresourced.conf"), []byte(contents), 0o644))

	cfg, err := LoadArbiterConfig(discardLogger())
	require.NoError(t, err)

	require.Equal(t, uint64(2*1024*1024*1024), cfg.SessionSlice.MemoryMin, "explicit SessionSlice.MemoryMin must win")
	require.Equal(t, cfg.ActiveUser.MemoryLow, cfg.SessionSlice.MemoryLow, "unset SessionSlice fields fall back to ActiveUser")
	require.Equal(t, cfg.ActiveUser.CPUWeight, cfg.SessionSlice.CPUWeight)
	require.Equal(t, cfg.ActiveUser.IOWeight, cfg.SessionSlice.IOWeight)
}

func TestLoadArbiterConfigMissingFileUsesDefaults(t *testing.T) {
	SysconfDir = t.TempDir()

	cfg, err := LoadArbiterConfig(discardLogger())
	require.NoError(t, err)
	require.Equal(t, cfg.ActiveUser, cfg.SessionSlice)
}

func TestAppBoostClamps(t *testing.T) {
	dir := t.TempDir()

	contents := `[AppBoost]
ActiveCPUWeight = 0
DefaultCPUWeight = 99999
BoostCPUWeightInc = 10000
ActiveIOWeight = 9000
`
	path := filepath.Join(dir, "uresourced.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	SysconfDir = dir
	origUserConfigDir := os.Getenv("XDG_CONFIG_HOME")
	require.NoError(t, os.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "nonexistent")))

	defer os.Setenv("XDG_CONFIG_HOME", origUserConfigDir)

	boost := LoadAppBoostConfig(discardLogger())

	require.EqualValues(t, 1, boost.ActiveCPUWeight, "0 clamps up to MinWeight")
	require.EqualValues(t, 10000, boost.DefaultCPUWeight, "99999 clamps down to MaxWeight")
	require.EqualValues(t, 10000-1, boost.BoostCPUWeightInc, "BoostCPUWeightInc clamps to 10000-ActiveCPUWeight")
	require.EqualValues(t, 9000, boost.ActiveIOWeight)
}
