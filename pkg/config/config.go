// Package config centralises the environment-driven settings for both
// the Worker and the Gateway: connection parameters, path-jail roots,
// rate limits, and the optional yaml.v3 file overlay for the Gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection/backoff/keep-alive constants. Names and values are taken
// verbatim from the reference Worker's configuration module.
const (
	DefaultReconnectDelay    = 5 * time.Second
	MaxReconnectDelay        = 120 * time.Second
	WSPingInterval           = 30 * time.Second
	WSPingTimeout            = 10 * time.Second
	MaxFrameBytes            = 1 << 20 // 1 MiB
	DefaultRateLimitPerMin   = 120
	RateLimitWindow          = 60 * time.Second
	PendingApprovalTimeout   = 300 * time.Second
	DefaultAuditFileName     = "audit.jsonl"
	DefaultIdempotencyDBFile = "relay.db"
)

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(names []string, fallback time.Duration) time.Duration {
	raw := firstEnv(names...)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// WorkerConfig holds the settings a Worker process needs to boot.
type WorkerConfig struct {
	GatewayURL       string
	AuthToken        string
	AllowedRoots     []string
	LogLevel         string
	LogJSON          bool
	AuditLogDir      string
	RateLimitPerMin  int
	ReconnectDelay   time.Duration
	MaxReconnectWait time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
}

// LoadWorkerConfig reads the Worker's configuration from the process
// environment. RELAY_* is the canonical prefix; the legacy OPENCLAW_*
// names are accepted as a fallback so operators migrating an existing
// deployment don't have to rename every variable at once.
func LoadWorkerConfig() (WorkerConfig, error) {
	cfg := WorkerConfig{
		GatewayURL:       firstEnv("RELAY_GATEWAY_URL", "OPENCLAW_GATEWAY_URL"),
		AuthToken:        firstEnv("RELAY_AUTH_TOKEN", "OPENCLAW_AUTH_TOKEN"),
		LogLevel:         firstEnv("RELAY_LOG_LEVEL", "OPENCLAW_LOG_LEVEL"),
		RateLimitPerMin:  DefaultRateLimitPerMin,
		ReconnectDelay:   DefaultReconnectDelay,
		MaxReconnectWait: MaxReconnectDelay,
		PingInterval:     WSPingInterval,
		PingTimeout:      WSPingTimeout,
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "wss://127.0.0.1:8765/agent/ws"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AuthToken == "" {
		return cfg, fmt.Errorf("missing auth token: set RELAY_AUTH_TOKEN")
	}

	cfg.AllowedRoots = parseAllowedRoots(firstEnv("RELAY_ALLOWED_ROOTS", "OPENCLAW_ALLOWED_ROOTS"))

	exeDir, err := os.Getwd()
	if err != nil {
		return cfg, fmt.Errorf("resolve working directory: %w", err)
	}
	cfg.AuditLogDir = filepath.Join(exeDir, "logs")

	if raw := firstEnv("RELAY_RATE_LIMIT_PER_MINUTE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.RateLimitPerMin = n
		}
	}

	return cfg, nil
}

// parseAllowedRoots mirrors _parse_allowed_roots: a ';' or ','
// delimited list from the environment, or platform-appropriate
// defaults (home directory plus /tmp on POSIX).
func parseAllowedRoots(raw string) []string {
	if raw != "" {
		normalized := strings.ReplaceAll(raw, ",", ";")
		var roots []string
		for _, p := range strings.Split(normalized, ";") {
			p = strings.TrimSpace(p)
			if p != "" {
				roots = append(roots, p)
			}
		}
		if len(roots) > 0 {
			return roots
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return []string{home, os.TempDir()}
}

// GatewayConfig holds the settings a Gateway process needs to boot.
type GatewayConfig struct {
	HTTPHost    string `yaml:"http_host"`
	HTTPPort    int    `yaml:"http_port"`
	WSHost      string `yaml:"ws_host"`
	WSPort      int    `yaml:"ws_port"`
	AuthToken   string `yaml:"-"`
	TLSCertPath string `yaml:"tls_cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path"`
	DBPath      string `yaml:"db_path"`
	ExecutionMode string `yaml:"-"` // "" (agent_preferred) or forced ssh mode string

	SSHHost             string        `yaml:"ssh_host"`
	SSHPort             int           `yaml:"ssh_port"`
	SSHUser             string        `yaml:"ssh_user"`
	SSHPassword         string        `yaml:"-"`
	SSHKeyPath          string        `yaml:"ssh_key_path"`
	SSHConnectTimeout   time.Duration `yaml:"-"`
	SSHCommandTimeout   time.Duration `yaml:"-"`
	SSHRemoteOS         string        `yaml:"ssh_remote_os"`
	SSHStrictHostKey    bool          `yaml:"ssh_strict_host_key"`
	SSHAllowedRoots     []string      `yaml:"ssh_allowed_roots"`
	SSHHealthCacheTTL   time.Duration `yaml:"-"`
}

// forcedSSHModes mirrors _SSH_ONLY_MODES from the reference Gateway.
var forcedSSHModes = map[string]bool{
	"ssh": true, "ssh_tunnel": true, "tunnel": true, "ssh-only": true,
}

// ForceSSHMode reports whether the Gateway must route through the SSH
// fallback executor exclusively, ignoring any connected Worker.
func (c GatewayConfig) ForceSSHMode(sshConfigured bool) bool {
	return sshConfigured && forcedSSHModes[strings.ToLower(strings.TrimSpace(c.ExecutionMode))]
}

// LoadGatewayConfig reads defaults, an optional YAML file overlay, and
// finally environment variables, in ascending precedence.
func LoadGatewayConfig(configPath string) (GatewayConfig, error) {
	cfg := GatewayConfig{
		HTTPHost:          "127.0.0.1",
		HTTPPort:          8766,
		WSHost:            "0.0.0.0",
		WSPort:            8765,
		DBPath:            DefaultIdempotencyDBFile,
		SSHHost:           "127.0.0.1",
		SSHPort:           2222,
		SSHRemoteOS:       "windows",
		SSHConnectTimeout: 4 * time.Second,
		SSHCommandTimeout: 180 * time.Second,
		SSHHealthCacheTTL: 15 * time.Second,
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	cfg.AuthToken = firstEnv("RELAY_AUTH_TOKEN", "OPENCLAW_AUTH_TOKEN")
	if cfg.AuthToken == "" {
		return cfg, fmt.Errorf("missing auth token: set RELAY_AUTH_TOKEN")
	}
	cfg.ExecutionMode = firstEnv("RELAY_EXECUTION_MODE", "OPENCLAW_EXECUTION_MODE")

	if v := firstEnv("RELAY_SSH_HOST", "OPENCLAW_SSH_HOST"); v != "" {
		cfg.SSHHost = v
	}
	if v := firstEnv("RELAY_SSH_PORT", "OPENCLAW_SSH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SSHPort = n
		}
	}
	if v := firstEnv("RELAY_SSH_USER", "OPENCLAW_SSH_USER"); v != "" {
		cfg.SSHUser = v
	}
	cfg.SSHPassword = firstEnv("RELAY_SSH_PASSWORD", "OPENCLAW_SSH_PASSWORD")
	if v := firstEnv("RELAY_SSH_KEY_PATH", "OPENCLAW_SSH_KEY_PATH"); v != "" {
		cfg.SSHKeyPath = v
	}
	if v := firstEnv("RELAY_SSH_REMOTE_OS", "OPENCLAW_SSH_REMOTE_OS"); v != "" {
		cfg.SSHRemoteOS = v
	}
	if v := firstEnv("RELAY_SSH_STRICT_HOST_KEY", "OPENCLAW_SSH_STRICT_HOST_KEY"); v != "" {
		cfg.SSHStrictHostKey = v == "true"
	}
	cfg.SSHConnectTimeout = envDuration([]string{"RELAY_SSH_CONNECT_TIMEOUT", "OPENCLAW_SSH_CONNECT_TIMEOUT"}, cfg.SSHConnectTimeout)
	cfg.SSHCommandTimeout = envDuration([]string{"RELAY_SSH_COMMAND_TIMEOUT", "OPENCLAW_SSH_COMMAND_TIMEOUT"}, cfg.SSHCommandTimeout)
	cfg.SSHHealthCacheTTL = envDuration([]string{"RELAY_SSH_HEALTH_CACHE_SECONDS", "OPENCLAW_SSH_HEALTH_CACHE_SECONDS"}, cfg.SSHHealthCacheTTL)
	if raw := firstEnv("RELAY_SSH_ALLOWED_ROOTS", "OPENCLAW_SSH_ALLOWED_ROOTS"); raw != "" {
		cfg.SSHAllowedRoots = parseAllowedRoots(raw)
	}

	return cfg, nil
}

// SSHConfigured reports whether enough information was supplied to
// attempt an SSH connection at all.
func (c GatewayConfig) SSHConfigured() bool {
	return c.SSHHost != "" && c.SSHUser != ""
}
