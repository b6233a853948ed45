package executor

import (
	"os"
	"os/exec"
	"path/filepath"
)

// spawnDetached launches a long-running process (a dev server) and
// returns its PID without waiting for it to exit — the fire-and-forget
// shape start_dev_server needs.
func spawnDetached(dir, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go cmd.Wait() //nolint:errcheck // fire-and-forget: caller only needs the pid
	return cmd.Process.Pid, nil
}

// writeFileWithParents creates any missing parent directories before
// writing content, matching os.makedirs(..., exist_ok=True) + open(w).
func writeFileWithParents(path, content string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
