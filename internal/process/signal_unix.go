//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so that a
// termination signal reaches anything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return syscall.Kill(pid, sig)
		}
		return err
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
