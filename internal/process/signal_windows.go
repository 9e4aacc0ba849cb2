//go:build windows

package process

import (
	"os"
	"os/exec"
)

func setProcGroup(cmd *exec.Cmd) {}

// Windows has no SIGTERM; terminate and kill both end the process.
func terminate(pid int) error { return signalKill(pid) }

func kill(pid int) error { return signalKill(pid) }

func signalKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
