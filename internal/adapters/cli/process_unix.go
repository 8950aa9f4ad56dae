//go:build !windows

package cli

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr sets up process group isolation so the agent and
// any tool subprocesses it spawns can be signaled as a group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// setActiveProcess records the running command for external termination.
func (b *BaseAdapter) setActiveProcess(cmd *exec.Cmd) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeCmd = cmd
}

// clearActiveProcess clears the active command reference.
func (b *BaseAdapter) clearActiveProcess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeCmd = nil
}

// GracefulKill sends SIGTERM to the active process group, waits for
// gracePeriod, then sends SIGKILL if it hasn't exited. The cancel path
// uses this so a half-finished editing pass does not leave orphaned
// tool subprocesses behind.
func (b *BaseAdapter) GracefulKill(gracePeriod time.Duration) error {
	b.mu.Lock()
	cmd := b.activeCmd
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process may have already exited
		return fmt.Errorf("getpgid(%d): %w", pid, err)
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("sigterm pgid %d: %w", pgid, err)
	}

	deadline := time.After(gracePeriod)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return nil
		case <-tick.C:
			// Signal 0 probes for existence without delivering anything.
			if err := syscall.Kill(-pgid, 0); err == syscall.ESRCH {
				return nil
			}
		}
	}
}
