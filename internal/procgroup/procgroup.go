// Package procgroup puts spawned workers in their own process group so the
// master can signal a worker and everything it spawned (ffmpeg, soffice) in
// one shot. The master owns Wait; this package only configures and signals.
package procgroup

import "os/exec"

// Set configures the command to start in a new process group. Must be called
// before cmd.Start for Terminate/Kill to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate asks the process group led by pid to shut down (SIGTERM on
// unix). Best-effort: a group that is already gone is not an error.
func Terminate(pid int) error {
	return terminate(pid)
}

// Kill forcibly ends the process group led by pid (SIGKILL on unix).
func Kill(pid int) error {
	return kill(pid)
}
