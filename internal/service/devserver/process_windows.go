//go:build windows

package devserver

import (
	"context"
	"os/exec"
	"time"
)

// configureProcAttr is a no-op on Windows (Setpgid not supported).
func configureProcAttr(_ *exec.Cmd) {}

// terminate on Windows falls back to Process.Kill; there is no process
// group to signal and no TERM/KILL distinction.
func (s *Server) terminate(_ context.Context, _ time.Duration) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
}
