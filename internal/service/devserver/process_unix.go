//go:build !windows

package devserver

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr isolates the child in its own process group so the
// bundlers and watchers it forks can be signaled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate SIGTERMs the server's process group, waits up to grace for
// the child to exit, then SIGKILLs the group.
func (s *Server) terminate(ctx context.Context, grace time.Duration) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(s.cmd.Process.Pid)
	if err != nil {
		// Already reaped.
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.waitCh:
	case <-timer.C:
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	case <-ctx.Done():
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}
