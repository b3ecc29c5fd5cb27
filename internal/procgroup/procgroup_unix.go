//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminate(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func kill(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// signalGroup signals -pid, reaching the group leader and all children.
// Works because Set put the child in its own group at spawn time.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if err == syscall.ESRCH {
			return nil // already gone
		}
		// Group signalling restricted; fall back to the leader alone.
		if err := syscall.Kill(pid, sig); err != nil && err != syscall.ESRCH {
			return err
		}
	}
	return nil
}
