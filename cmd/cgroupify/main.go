// Command cgroupify is the per-PID cgroup isolator: given one systemd
// scope or service unit, it relocates every process in that unit's
// cgroup leaf into its own per-PID child cgroup, enabling per-process
// accounting, then keeps doing so for new arrivals until the leaf is
// idle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/prometheus/common/promslog"
	promslogflag "github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"

	"github.com/uresourced/uresourced/internal/cgroupify"
	"github.com/uresourced/uresourced/internal/runtime"
	"github.com/uresourced/uresourced/internal/security"
)

const appName = "cgroupify"

func main() {
	app := kingpin.New(appName, "Splits every process in a systemd scope or service's cgroup leaf into its own per-PID child cgroup.")

	unit := app.Arg("unit", "Unit name, must end in .scope or .service.").Required().String()

	promslogConfig := &promslog.Config{}
	promslogflag.AddFlags(app, promslogConfig)
	app.Version(version.Print(appName))
	app.HelpFlag.Short('h')

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := promslog.New(promslogConfig)

	logger.Info("starting "+appName, "version", version.Info(), "unit", *unit)
	logger.Info("operational information", "build_context", version.BuildContext(), "host_details", runtime.Uname(), "fd_limits", runtime.FdLimits())

	security.LogAmbientCapabilities(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		logger.Error("connecting to service manager", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	root, err := cgroupify.ResolveUnitRoot(conn, *unit)
	if err != nil {
		logger.Error("resolving unit cgroup", "unit", *unit, "err", err)
		os.Exit(1)
	}

	mgr, err := cgroupify.New(logger, root)
	if err != nil {
		logger.Error("creating cgroupify manager", "err", err)
		os.Exit(1)
	}

	if err := mgr.Run(ctx); err != nil {
		logger.Error("exiting with error", "err", err)
		os.Exit(1)
	}

	logger.Info("leaf empty, exiting")
}
