//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcGroup places the worker in its own process group so signals
// reach the whole pipeline, not just the leader.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the worker's process group.
func terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the worker's process group.
func kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
