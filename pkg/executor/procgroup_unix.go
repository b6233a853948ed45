//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts cmd in its own process group so a timeout kills the
// whole subtree — npm install's child processes, docker build's
// buildkit workers — instead of only the direct child exec.CommandContext
// would otherwise leave orphaned.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
