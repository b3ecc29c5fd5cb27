//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestTerminateReachesGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pid := cmd.Process.Pid

	// Group exists and is signalable.
	if err := syscall.Kill(-pid, syscall.Signal(0)); err != nil {
		t.Fatalf("process group probe failed: %v", err)
	}

	if err := Terminate(pid); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Wait() = nil, want signal exit")
		}
	case <-time.After(5 * time.Second):
		_ = Kill(pid)
		t.Fatal("worker did not exit after Terminate")
	}
}

func TestSignalsOnDeadGroupAreNil(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if err := Terminate(pid); err != nil {
		t.Errorf("Terminate() on dead group error = %v, want nil", err)
	}
	if err := Kill(pid); err != nil {
		t.Errorf("Kill() on dead group error = %v, want nil", err)
	}
}

func TestZeroPidIsNoOp(t *testing.T) {
	if err := Terminate(0); err != nil {
		t.Errorf("Terminate(0) error = %v", err)
	}
	if err := Kill(-1); err != nil {
		t.Errorf("Kill(-1) error = %v", err)
	}
}
