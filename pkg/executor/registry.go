package executor

import (
	"context"

	"github.com/nodebridge/relay/pkg/types"
)

// AutoActions is the AUTO-tier action name set (§3 Tier, config.py
// AUTO_ACTIONS). web_search and check_coding_agents are carried as
// thin stubs per SPEC_FULL.md §12 — their routing/audit behaviour is
// in scope even though the backends they'd call are not.
var AutoActions = []string{
	"git_status",
	"web_search",
	"run_tests",
	"lint_project",
	"start_dev_server",
	"build_project",
	"file_read",
	"list_directory",
	"ollama_chat",
	"check_coding_agents",
}

// ConfirmActions is the CONFIRM-tier action name set.
var ConfirmActions = []string{
	"git_commit",
	"install_dependencies",
	"file_write",
	"create_directory",
	"git_init",
	"git_add_all",
	"git_push",
	"gh_create_repo",
	"open_in_vscode",
	"run_coding_agent",
	"docker_build",
	"docker_compose_up",
	"close_app",
	"zip_project",
}

// BlockedActions are explicitly named so the validator can log
// attempts against known-bad operations with a more specific reason
// than "unknown action" (§4.D.2).
var BlockedActions = []string{
	"shell_exec",
	"format_disk",
	"modify_registry",
	"manage_users",
	"firewall_change",
	"download_exec",
	"eval_code",
}

// AllowedApps is the static close_app allowlist: friendly name ->
// process image name. Only these can be terminated.
var AllowedApps = map[string]string{
	"chrome":   "chrome.exe",
	"firefox":  "firefox.exe",
	"edge":     "msedge.exe",
	"notepad":  "notepad.exe",
	"code":     "Code.exe",
	"explorer": "explorer.exe",
	"slack":    "slack.exe",
	"discord":  "Discord.exe",
	"spotify":  "Spotify.exe",
	"teams":    "Teams.exe",
}

// NewRegistry builds the compile-time name -> function table. An
// absent name is an implementation-level BLOCKED regardless of what
// the tier tables say — the router never dispatches a name that
// isn't present here.
func NewRegistry(opts Options) Registry {
	return Registry{
		"git_status":           gitStatus,
		"web_search":           webSearch(opts.Search),
		"run_tests":            runTests,
		"lint_project":         lintProject,
		"start_dev_server":     startDevServer,
		"build_project":        buildProject,
		"file_read":            fileRead,
		"list_directory":       listDirectory,
		"ollama_chat":          ollamaChat(opts.OllamaURL),
		"check_coding_agents":  checkCodingAgents,
		"git_commit":           gitCommit,
		"install_dependencies": installDependencies,
		"file_write":           fileWrite,
		"create_directory":     createDirectory,
		"git_init":             gitInit,
		"git_add_all":          gitAddAll,
		"git_push":             gitPush,
		"gh_create_repo":       ghCreateRepo,
		"open_in_vscode":       openInVSCode,
		"run_coding_agent":     runCodingAgent,
		"docker_build":         dockerBuild,
		"docker_compose_up":    dockerComposeUp,
		"close_app":            closeApp,
		"zip_project":          zipProject,
	}
}

// SearchFunc services the web_search action. The default
// implementation (see Options) reports the backend as unconfigured
// rather than making any outbound call — wiring a real search
// provider is out of scope per spec.md §1.
type SearchFunc func(ctx context.Context, params types.Params) (*types.ExecResult, error)

// Options configures the registry's pluggable/out-of-scope actions.
type Options struct {
	// Search services web_search. Defaults to a stub reporting the
	// backend as unconfigured.
	Search SearchFunc
	// OllamaURL is the base URL for the local Ollama chat backend.
	OllamaURL string
}
