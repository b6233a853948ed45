//go:build windows

package executor

import "os/exec"

// setProcGroup is a no-op on Windows: process groups there need
// CREATE_NEW_PROCESS_GROUP plus a console control event or a job
// object to tear down a subtree, neither of which exec.Cmd exposes
// directly. Timeouts fall back to killing the direct child only.
func setProcGroup(cmd *exec.Cmd) {}
