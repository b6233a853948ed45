// Package executor implements the fixed, named set of action bodies
// (§4.A): subprocess and filesystem operations run from argv vectors,
// never shell strings, with per-action timeouts and output truncation.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/nodebridge/relay/pkg/types"
)

// Truncation and timeout limits, taken verbatim from the reference
// Worker.
const (
	DefaultTimeout    = 120 * time.Second
	InstallTimeout    = 300 * time.Second
	DockerBuildTimeout = 600 * time.Second

	MaxStdout = 8 * 1024
	MaxStderr = 4 * 1024

	MaxFileReadBytes  = 64 * 1024
	MaxFileWriteBytes = 1024 * 1024
	MaxZipBytes       = 10 * 1024 * 1024

	MaxListEntries = 500
	MaxListDepth   = 3
)

// Func is the shape every action body implements: a pure function
// from validated parameters to a result.
type Func func(ctx context.Context, params types.Params) (*types.ExecResult, error)

// Registry is the compile-time name -> function table. An absent name
// is an implementation-level BLOCKED — the router never consults this
// map for a name the Validator hasn't already cleared.
type Registry map[string]Func

// truncate caps s at max bytes, appending a marker when it does.
func truncate(s string, max int, marker string) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + marker
}

// runArgv executes name+args with a working directory and timeout,
// capturing stdout/stderr and truncating per the stdout/stderr caps.
// Never invokes a shell — argv is passed straight to exec.Command.
func runArgv(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (*types.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	setProcGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return &types.ExecResult{
			ReturnCode: -1,
			Stdout:     truncate(stdout.String(), MaxStdout, "\n... (truncated)"),
			Stderr:     fmt.Sprintf("timed out after %ds", int(timeout.Seconds())),
		}, nil
	}

	rc := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		rc = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	return &types.ExecResult{
		ReturnCode: rc,
		Stdout:     truncate(stdout.String(), MaxStdout, "\n... (truncated)"),
		Stderr:     truncate(stderr.String(), MaxStderr, "\n... (truncated)"),
	}, nil
}

func paramString(params types.Params, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
