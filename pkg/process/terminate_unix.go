//go:build !windows

package process

import (
	"syscall"
	"time"
)

// SendTerminationSignal sends SIGTERM to the process group on Unix systems.
// The negative PID addresses the whole group, so child processes of the
// application terminate with it.
func SendTerminationSignal(pid int, timeout time.Duration) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
