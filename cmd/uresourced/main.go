// Command uresourced is the system-level resource arbiter: it watches
// logind for graphical-session changes and keeps per-user cgroup
// allocations in sync with them over the service manager's bus
// interface.
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

	"github.com/uresourced/uresourced/internal/cgroup"
	"github.com/uresourced/uresourced/internal/config"
	"github.com/uresourced/uresourced/internal/login"
	"github.com/uresourced/uresourced/internal/manager"
	"github.com/uresourced/uresourced/internal/runtime"
	"github.com/uresourced/uresourced/internal/security"
)

const appName = "uresourced"

func main() {
	app := kingpin.New(appName, "System-level control-group resource arbiter.")

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

	if err := run(logger); err != nil {
		logger.Error("exiting with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadArbiterConfig(logger)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	watcher, err := login.New(logger)
	if err != nil {
		return fmt.Errorf("connecting to login subsystem: %w", err)
	}

	units, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer units.Close()

	busConn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer busConn.Close()

	arbiter := manager.New(logger, cfg, watcher, units, busConn, cgroup.UserHasGraphicalService)

	if err := arbiter.Run(ctx); err != nil {
		return fmt.Errorf("running arbiter: %w", err)
	}

	arbiter.Flush()

	logger.Info("shut down cleanly")

	return nil
}
