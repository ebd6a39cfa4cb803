// Package osexec implements subprocess execution helpers used to drive
// external monitoring tools that have no native Go or D-Bus client.
package osexec

import (
	"context"
	"io"
	"os/exec"
	"syscall"
)

// Execute runs cmd to completion and returns its combined stdout/stderr.
func Execute(ctx context.Context, cmd string, args []string) ([]byte, error) {
	execCmd := exec.CommandContext(ctx, cmd, args...)

	// Start the child in its own process group so a signal delivered to us
	// (SIGINT/SIGTERM) does not also land on the subprocess before we get a
	// chance to terminate it ourselves.
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return execCmd.CombinedOutput()
}

// StreamReader starts cmd and returns a pipe over its stdout along with a
// function to wait for and clean up the process. Used to consume a
// monitoring subprocess that emits one JSON document per line for as long
// as it runs, rather than a single bounded command.
func StreamReader(ctx context.Context, cmd string, args ...string) (io.ReadCloser, func() error, error) {
	execCmd := exec.CommandContext(ctx, cmd, args...)
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	if err := execCmd.Start(); err != nil {
		return nil, nil, err
	}

	return stdout, execCmd.Wait, nil
}
