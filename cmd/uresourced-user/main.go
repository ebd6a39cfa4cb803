// Command uresourced-user is the per-user application monitor and
// policy engine: it tracks the logged-in user's application cgroup
// subtree, folds in audio and game-mode activity, and re-weights
// individual application units accordingly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/common/promslog"
	promslogflag "github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/procfs"

	"github.com/uresourced/uresourced/internal/appmonitor"
	"github.com/uresourced/uresourced/internal/apppolicy"
	"github.com/uresourced/uresourced/internal/audiosource"
	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/config"
	"github.com/uresourced/uresourced/internal/gamesource"
	"github.com/uresourced/uresourced/internal/runtime"
	"github.com/uresourced/uresourced/internal/security"
)

const appName = "uresourced-user"

func main() {
	app := kingpin.New(appName, "Per-user application monitor and control-group weight policy engine.")

	audioMonitorCmd := app.Flag(
		"audio.monitor-cmd",
		"Command that streams one JSON document per PipeWire graph change on stdout.",
	).Default("pw-dump").String()
	audioMonitorArgs := app.Flag(
		"audio.monitor-arg",
		"Extra argument passed to --audio.monitor-cmd (repeatable).",
	).Default("--monitor").Strings()

	promslogConfig := &promslog.Config{}
	promslogflag.AddFlags(app, promslogConfig)
	app.Version(version.Print(appName))
	app.HelpFlag.Short('h')

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := promslog.New(promslogConfig)

	logger.Info("starting "+appName, "version", version.Info())
	logger.Info("operational information", "build_context", version.BuildContext(), "host_details", runtime.Uname(), "fd_limits", runtime.FdLimits())

	security.LogAmbientCapabilities(logger)

	if err := run(logger, *audioMonitorCmd, *audioMonitorArgs); err != nil {
		logger.Error("exiting with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, audioCmd string, audioArgs []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uid := os.Getuid()
	appSliceRoot := cgroup.Root + "/" + cgroup.AppSlicePath(uid)

	boostCfg := config.LoadAppBoostConfig(logger)

	monitor, err := appmonitor.New(logger, appSliceRoot)
	if err != nil {
		return fmt.Errorf("creating application monitor: %w", err)
	}

	if err := monitor.Start(); err != nil {
		return fmt.Errorf("starting application monitor: %w", err)
	}

	defer monitor.Close()

	userUnits, err := sdbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("connecting to user service manager: %w", err)
	}
	defer userUnits.Close()

	policy := apppolicy.New(logger, boostCfg, userUnits, monitor)

	proc, err := procfs.NewDefaultFS()
	if err != nil {
		return fmt.Errorf("opening procfs: %w", err)
	}

	audioSrc := audiosource.New(logger, audioCmd, audioArgs...)

	sessionBus, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}
	defer sessionBus.Close()

	gameSrc, err := gamesource.New(logger, sessionBus)
	if err != nil {
		return fmt.Errorf("subscribing to game-mode daemon: %w", err)
	}

	raceProofArbiter(ctx, logger)

	go func() {
		if err := audioSrc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("audio source exited", "err", err)
		}
	}()

	go func() {
		if err := gameSrc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("game source exited", "err", err)
		}
	}()

	loop(ctx, logger, monitor, audioSrc, gameSrc, proc, appSliceRoot)

	policy.Stop(nil)

	logger.Info("shut down cleanly")

	return nil
}

// loop is the single consumer goroutine multiplexing every event source:
// filesystem changes from the app monitor's own watch, and PID-keyed
// audio/game activity translated into boost toggles on the same
// registry the monitor owns, keeping it single-writer.
func loop(
	ctx context.Context,
	logger *slog.Logger,
	monitor *appmonitor.Monitor,
	audioSrc *audiosource.Source,
	gameSrc *gamesource.Source,
	proc procfs.FS,
	appSliceRoot string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-monitor.WatchEvents():
			monitor.HandleEvent(ev)
		case err := <-monitor.WatchErrors():
			logger.Warn("application monitor watch failed", "err", err)
		case ev := <-audioSrc.Events():
			toggleFromPID(logger, monitor, proc, appSliceRoot, ev.PID, appmonitor.BoostAudio, ev.Running)
		case ev := <-gameSrc.Events():
			toggleFromPID(logger, monitor, proc, appSliceRoot, ev.PID, appmonitor.BoostGame, ev.Registered)
		}
	}
}

func toggleFromPID(logger *slog.Logger, monitor *appmonitor.Monitor, proc procfs.FS, appSliceRoot string, pid int, flag appmonitor.BoostFlags, set bool) {
	path, err := cgroup.UnitCgroupPathFromPID(proc, pid)
	if err != nil {
		logger.Debug("could not resolve cgroup path for pid, ignoring", "pid", pid, "err", err)

		return
	}

	if _, ok := monitor.ToggleBoost(path, flag, set); !ok {
		logger.Debug("pid does not belong to the application slice, ignoring", "pid", pid, "path", path)
	}
}

// raceProofArbiter invokes the system arbiter's Update() method once at
// startup, forcing a full reconciliation pass so a graphical login that
// raced ahead of the system daemon's own login-watcher debounce still
// gets its allocation applied before this daemon starts acting on it.
func raceProofArbiter(ctx context.Context, logger *slog.Logger) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Warn("could not reach system bus to race-proof login, continuing anyway", "err", err)

		return
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.UResourced", "/org/freedesktop/UResourced")
	if call := obj.CallWithContext(ctx, "org.freedesktop.UResourced.Update", 0); call.Err != nil {
		logger.Debug("system arbiter Update call failed, continuing anyway", "err", call.Err)
	}
}
