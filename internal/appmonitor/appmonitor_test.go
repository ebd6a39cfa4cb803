package appmonitor

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uresourced/uresourced/internal/inotify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWatcher records Add/Remove calls without touching a real inotify
// fd, matching the fakeRegistrar pattern used for the cgroupify splitter.
type fakeWatcher struct {
	next    int32
	added   []string
	removed []int32
}

func (f *fakeWatcher) Add(path string, _ uint32) (int32, error) {
	f.next++
	f.added = append(f.added, path)

	return f.next, nil
}

func (f *fakeWatcher) Remove(wd int32) error {
	f.removed = append(f.removed, wd)

	return nil
}

func (f *fakeWatcher) Events() <-chan inotify.Event { return nil }
func (f *fakeWatcher) Errors() <-chan error         { return nil }
func (f *fakeWatcher) Close() error                 { return nil }

func newTestMonitor(root string) *Monitor {
	return &Monitor{
		logger:      discardLogger(),
		root:        root,
		watch:       &fakeWatcher{},
		watchToPath: map[int32]string{},
		pathToWatch: map[string]int32{},
		registry:    map[string]*AppInfo{},
		now:         func() int64 { return 42 },
	}
}

func TestRefreshCreatesAppInfoWithDefaultTimestamp(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)

	info := m.refresh(filepath.Join(root, "firefox.service"))
	require.NotNil(t, info)
	require.Equal(t, int64(-1), info.Timestamp)
	require.Equal(t, "firefox.service", info.Name)
}

func TestRefreshSkipsRootAndSliceUnits(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)

	require.Nil(t, m.refresh(root))
	require.Nil(t, m.refresh(filepath.Join(root, "nested.slice")))
}

func TestRefreshDoesNotOverwriteValidTimestampWithDefault(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)
	path := filepath.Join(root, "firefox.service")

	m.registry[path] = &AppInfo{Name: "firefox.service", Path: path, Timestamp: 12345}

	info := m.refresh(path)
	require.Equal(t, int64(12345), info.Timestamp)
}

func TestToggleBoostSetsAndClearsBit(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)
	path := filepath.Join(root, "firefox.service")

	var seen []AppInfo
	m.Subscribe(func(info AppInfo) { seen = append(seen, info) })

	info, ok := m.ToggleBoost(path, BoostAudio, true)
	require.True(t, ok)
	require.Equal(t, BoostAudio, info.Boosted)

	info, ok = m.ToggleBoost(path, BoostAudio, false)
	require.True(t, ok)
	require.Equal(t, BoostNone, info.Boosted)

	require.Len(t, seen, 2)
}

func TestToggleBoostRejectsPathOutsideRoot(t *testing.T) {
	m := newTestMonitor("/app.slice")

	_, ok := m.ToggleBoost("/other.slice/x.service", BoostGame, true)
	require.False(t, ok)
}

func TestResetAllAppsClearsActiveAndBoostedOnly(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)

	active := &AppInfo{Name: "a", Path: filepath.Join(root, "a"), Timestamp: -1}
	boosted := &AppInfo{Name: "b", Path: filepath.Join(root, "b"), Timestamp: 100, Boosted: BoostGame}
	resting := &AppInfo{Name: "c", Path: filepath.Join(root, "c"), Timestamp: 100}

	m.registry[active.Path] = active
	m.registry[boosted.Path] = boosted
	m.registry[resting.Path] = resting

	var changed []string
	m.Subscribe(func(info AppInfo) { changed = append(changed, info.Name) })

	m.ResetAllApps()

	require.Equal(t, int64(42), active.Timestamp)
	require.Equal(t, BoostNone, active.Boosted)
	require.Equal(t, int64(42), boosted.Timestamp)
	require.Equal(t, BoostNone, boosted.Boosted)
	require.Equal(t, int64(100), resting.Timestamp, "already-resting app must not be touched")
	require.ElementsMatch(t, []string{"a", "b"}, changed)
}

func TestDropPathRemovesDescendantRegistryEntries(t *testing.T) {
	root := "/app.slice"
	m := newTestMonitor(root)

	m.registry[filepath.Join(root, "game.slice")] = &AppInfo{Path: filepath.Join(root, "game.slice")}
	m.registry[filepath.Join(root, "game.slice", "steam.service")] = &AppInfo{Path: filepath.Join(root, "game.slice", "steam.service")}
	m.pathToWatch[filepath.Join(root, "game.slice")] = 1
	m.pathToWatch[filepath.Join(root, "game.slice", "steam.service")] = 2
	m.watchToPath[1] = filepath.Join(root, "game.slice")
	m.watchToPath[2] = filepath.Join(root, "game.slice", "steam.service")

	m.dropPath(filepath.Join(root, "game.slice"))

	require.Empty(t, m.registry)
	require.Empty(t, m.pathToWatch)
	require.Empty(t, m.watchToPath)
}
