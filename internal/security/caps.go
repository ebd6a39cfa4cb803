// Package security implements capability introspection for the daemons
// that write control-group files the service manager has not delegated
// to them outright.
package security

import (
	"log/slog"

	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// LogAmbientCapabilities logs the process's effective capability set at
// startup. None of these daemons start privileged and drop down to an
// unprivileged user; the system arbiter runs as the service it is, and the
// user-session components run already as the target user, so the only
// useful thing to do with the capability set is report it, not rewrite it.
func LogAmbientCapabilities(logger *slog.Logger) {
	set := cap.GetProc()

	diff, err := set.Cf(cap.NewSet())
	if err != nil {
		logger.Warn("failed to inspect process capabilities", "err", err)

		return
	}

	if diff == 0 {
		logger.Debug("process holds no capabilities beyond the default set")

		return
	}

	logger.Info("process capability set", "capabilities", set.String())
}

// HasCapability reports whether the named capability is present in the
// process's effective set.
func HasCapability(c cap.Value) bool {
	enabled, err := cap.GetProc().GetFlag(cap.Effective, c)
	if err != nil {
		return false
	}

	return enabled
}
