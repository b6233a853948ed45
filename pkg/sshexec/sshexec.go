// Package sshexec implements the Gateway's fallback action executor:
// when no Worker is connected (or the operator has pinned execution
// to SSH-only mode), actions run directly on a remote host over SSH
// instead of over the WebSocket control channel (§6).
package sshexec

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/types"
)

// Executor runs the Worker's action names over an SSH connection to a
// single remote host instead of a local subprocess. web_search,
// ollama_chat, start_dev_server, check_coding_agents, run_coding_agent
// and zip_project have no SSH implementation: they return an error
// result saying they are not supported in SSH tunnel mode. close_app
// works only against Windows hosts.
type Executor struct {
	cfg config.GatewayConfig

	healthMu      sync.Mutex
	lastHealthAt  time.Time
	lastHealthy   bool
	lastDetail    string
}

// New builds an Executor from the Gateway's configuration.
func New(cfg config.GatewayConfig) *Executor {
	return &Executor{cfg: cfg}
}

// IsConfigured reports whether enough SSH connection information was
// supplied to attempt a connection at all.
func (e *Executor) IsConfigured() bool {
	return e.cfg.SSHConfigured()
}

// HealthCheck reports whether the remote host is currently reachable,
// caching the result for SSHHealthCacheTTL so every /status poll
// doesn't open a fresh connection.
func (e *Executor) HealthCheck(ctx context.Context) (bool, string) {
	if !e.IsConfigured() {
		return false, "SSH executor not configured"
	}

	e.healthMu.Lock()
	ttl := e.cfg.SSHHealthCacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if time.Since(e.lastHealthAt) < ttl && !e.lastHealthAt.IsZero() {
		healthy, detail := e.lastHealthy, e.lastDetail
		e.healthMu.Unlock()
		return healthy, detail
	}
	e.healthMu.Unlock()

	client, err := e.connect()
	healthy := err == nil
	detail := fmt.Sprintf("%s@%s:%d", e.cfg.SSHUser, e.cfg.SSHHost, e.cfg.SSHPort)
	if err != nil {
		detail = err.Error()
	} else {
		client.Close()
	}

	e.healthMu.Lock()
	e.lastHealthAt = time.Now()
	e.lastHealthy = healthy
	e.lastDetail = detail
	e.healthMu.Unlock()

	return healthy, detail
}

func (e *Executor) connect() (*ssh.Client, error) {
	auths := []ssh.AuthMethod{}
	if e.cfg.SSHKeyPath != "" {
		keyBytes, err := os.ReadFile(e.cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if e.cfg.SSHPassword != "" {
		auths = append(auths, ssh.Password(e.cfg.SSHPassword))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.cfg.SSHStrictHostKey {
		cb, err := knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = cb
	}

	clientCfg := &ssh.ClientConfig{
		User:            e.cfg.SSHUser,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.cfg.SSHConnectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.SSHHost, e.cfg.SSHPort)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}

// Execute runs one action on the remote host and always returns a
// populated Response, mirroring Router.Dispatch's never-error
// contract on the Worker side.
func (e *Executor) Execute(ctx context.Context, action string, params types.Params, confirmed bool) types.Response {
	if !e.IsConfigured() {
		return types.Response{Action: action, Status: "error", Error: "SSH fallback is not configured."}
	}

	params = canonicaliseParams(params)
	if msg := validateRemotePaths(e.cfg, params); msg != "" {
		return types.Response{Action: action, Status: "error", Error: msg}
	}

	client, err := e.connect()
	if err != nil {
		return types.Response{Action: action, Status: "error", Error: fmt.Sprintf("SSH action failed: %s", err)}
	}
	defer client.Close()

	result, err := e.dispatch(client, action, params)
	if err != nil {
		return types.Response{Action: action, Status: "error", Error: fmt.Sprintf("SSH action failed: %s", err)}
	}
	return types.Response{Action: action, Status: "success", Result: result}
}

func canonicaliseParams(params types.Params) types.Params {
	out := make(types.Params, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// validateRemotePaths mirrors the reference's _is_allowed_path check:
// every path-valued parameter must resolve under one of the
// configured remote allowed roots.
func validateRemotePaths(cfg config.GatewayConfig, params types.Params) string {
	for _, key := range []string{"working_dir", "directory", "file", "path", "project_dir"} {
		raw, ok := params[key].(string)
		if !ok || raw == "" {
			continue
		}
		norm := normaliseRemotePath(raw, cfg.SSHRemoteOS)
		if !isAllowedRemotePath(norm, cfg.SSHAllowedRoots, cfg.SSHRemoteOS) {
			return fmt.Sprintf("Path '%s' is outside RELAY_SSH_ALLOWED_ROOTS.", raw)
		}
		params[key] = norm
	}
	return ""
}

func normaliseRemotePath(p, remoteOS string) string {
	// Clean resolves "." and ".." segments so the prefix check in
	// isAllowedRemotePath cannot be escaped with "root/../elsewhere".
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if remoteOS == "windows" {
		if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
			cleaned = "/" + cleaned // keep the UNC double separator
		}
		return strings.ReplaceAll(cleaned, "/", "\\")
	}
	return cleaned
}

func isAllowedRemotePath(candidate string, roots []string, remoteOS string) bool {
	if remoteOS == "windows" {
		cand := strings.ToLower(strings.TrimRight(strings.ReplaceAll(candidate, "/", "\\"), "\\"))
		for _, root := range roots {
			r := strings.ToLower(strings.TrimRight(normaliseRemotePath(root, remoteOS), "\\"))
			if cand == r || strings.HasPrefix(cand, r+"\\") {
				return true
			}
		}
		return false
	}
	cand := strings.TrimRight(candidate, "/")
	for _, root := range roots {
		r := strings.TrimRight(normaliseRemotePath(root, remoteOS), "/")
		if cand == r || strings.HasPrefix(cand, r+"/") {
			return true
		}
	}
	return false
}
