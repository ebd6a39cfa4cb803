// Package runtime reports the host diagnostics every cmd/ entrypoint logs
// once at startup: the kernel's uname and the process's file-descriptor
// rlimits, the two fields the three daemons actually care about (each
// opens a D-Bus connection plus, for the app monitor, one inotify fd per
// watched directory, so a low fd ceiling is worth seeing in the log).
package runtime

import (
	"fmt"
	"math"
	"syscall"

	"golang.org/x/sys/unix"
)

// syscall.RLIM_INFINITY is a constant.
// Its type is int on most architectures but there are exceptions such as loong64.
// Uniform it to uint accorind to the standard.
// https://pubs.opengroup.org/onlinepubs/9699919799/basedefs/sys_resource.h.html
var unlimited uint64 = syscall.RLIM_INFINITY & math.MaxUint64

// Uname returns the uname of the host machine.
func Uname() string {
	buf := unix.Utsname{}

	err := unix.Uname(&buf)
	if err != nil {
		panic("unix.Uname failed: " + err.Error())
	}

	str := "(" + unix.ByteSliceToString(buf.Sysname[:])
	str += " " + unix.ByteSliceToString(buf.Release[:])
	str += " " + unix.ByteSliceToString(buf.Version[:])
	str += " " + unix.ByteSliceToString(buf.Machine[:])
	str += " " + unix.ByteSliceToString(buf.Nodename[:])
	str += " " + unix.ByteSliceToString(buf.Domainname[:]) + ")"

	return str
}

func rlimitToString(v uint64) string {
	if v == unlimited {
		return "unlimited"
	}

	return fmt.Sprintf("%d", v)
}

// FdLimits returns the process's soft and hard open-file-descriptor
// limits.
func FdLimits() string {
	rlimit := syscall.Rlimit{}

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		panic("syscall.Getrlimit failed: " + err.Error())
	}

	// rlimit.Cur and rlimit.Max are int64 on some platforms, such as dragonfly.
	// We need to cast them explicitly to uint64.
	return fmt.Sprintf("(soft=%s, hard=%s)", rlimitToString(rlimit.Cur), rlimitToString(rlimit.Max))
}
