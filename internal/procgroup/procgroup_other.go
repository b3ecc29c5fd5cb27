//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
)

func set(cmd *exec.Cmd) {
	// No process groups here; signals reach the root process only.
}

func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Signal(os.Interrupt)
}

func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
