package sshexec

import (
	"bytes"
	"fmt"
	"regexp"

	"golang.org/x/crypto/ssh"

	"github.com/nodebridge/relay/pkg/types"
)

const (
	maxStdout = 8 * 1024
	maxStderr = 4 * 1024
)

var (
	repoNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	dockerTagRe = regexp.MustCompile(`^[a-zA-Z0-9._/:@-]+$`)
)

var closeableApps = map[string]string{
	"chrome": "chrome.exe", "firefox": "firefox.exe", "edge": "msedge.exe",
	"notepad": "notepad.exe", "code": "Code.exe", "explorer": "explorer.exe",
	"slack": "slack.exe", "discord": "Discord.exe", "spotify": "Spotify.exe", "teams": "Teams.exe",
}

func (e *Executor) dispatch(client *ssh.Client, action string, params types.Params) (*types.ExecResult, error) {
	switch action {
	case "file_read":
		return e.fileRead(client, params)
	case "file_write":
		return e.fileWrite(client, params)
	case "create_directory":
		return e.createDirectory(client, params)
	case "list_directory":
		return e.listDirectory(client, params)
	default:
		return e.runCommandAction(client, action, params)
	}
}

func (e *Executor) runCommand(client *ssh.Client, args []string, cwd string) (*types.ExecResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := buildCommand(e.cfg.SSHRemoteOS, args, cwd)
	rc := 0
	if err := session.Run(command); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			rc = exitErr.ExitStatus()
		} else {
			return nil, err
		}
	}

	out, errOut := stdout.String(), stderr.String()
	if e.cfg.SSHRemoteOS == "windows" {
		out, errOut = sanitizePowerShellOutput(out), sanitizePowerShellOutput(errOut)
	}
	if len(out) > maxStdout {
		out = out[:maxStdout]
	}
	if len(errOut) > maxStderr {
		errOut = errOut[:maxStderr]
	}
	return &types.ExecResult{ReturnCode: rc, Stdout: out, Stderr: errOut}, nil
}

func requireStr(params types.Params, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required parameter: '%s'", key)
	}
	return v, nil
}

func paramStrDefault(params types.Params, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (e *Executor) runCommandAction(client *ssh.Client, action string, params types.Params) (*types.ExecResult, error) {
	switch action {
	case "git_status":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		return e.runCommand(client, []string{"git", "status", "--porcelain"}, cwd)

	case "run_tests":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		switch paramStrDefault(params, "runner", "pytest") {
		case "pytest":
			return e.runCommand(client, []string{"python", "-m", "pytest", "--tb=short", "-q"}, cwd)
		case "npm":
			return e.runCommand(client, []string{"npm", "test"}, cwd)
		default:
			return &types.ExecResult{ReturnCode: 1, Stderr: "Unknown runner."}, nil
		}

	case "lint_project":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		switch paramStrDefault(params, "linter", "ruff") {
		case "ruff":
			return e.runCommand(client, []string{"python", "-m", "ruff", "check", "."}, cwd)
		case "eslint":
			return e.runCommand(client, []string{"npx", "eslint", "."}, cwd)
		default:
			return &types.ExecResult{ReturnCode: 1, Stderr: "Unknown linter."}, nil
		}

	case "build_project":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		switch paramStrDefault(params, "build_tool", "npm") {
		case "npm":
			return e.runCommand(client, []string{"npm", "run", "build"}, cwd)
		case "python":
			return e.runCommand(client, []string{"python", "-m", "build"}, cwd)
		default:
			return &types.ExecResult{ReturnCode: 1, Stderr: "Unknown build tool."}, nil
		}

	case "install_dependencies":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		switch paramStrDefault(params, "manager", "pip") {
		case "pip":
			return e.runCommand(client, []string{"python", "-m", "pip", "install", "-r", joinRemote(e.cfg.SSHRemoteOS, cwd, "requirements.txt")}, cwd)
		case "npm":
			return e.runCommand(client, []string{"npm", "install"}, cwd)
		default:
			return &types.ExecResult{ReturnCode: 1, Stderr: "Unknown manager."}, nil
		}

	case "git_init":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		result, err := e.runCommand(client, []string{"git", "init"}, cwd)
		if err != nil || result.ReturnCode != 0 {
			return result, err
		}
		_, _ = e.runCommand(client, []string{"git", "checkout", "-b", "main"}, cwd)
		return result, nil

	case "git_add_all":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		return e.runCommand(client, []string{"git", "add", "-A"}, cwd)

	case "git_commit":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		message, err := requireStr(params, "message")
		if err != nil {
			return nil, err
		}
		stage, err := e.runCommand(client, []string{"git", "add", "-u"}, cwd)
		if err != nil || stage.ReturnCode != 0 {
			return stage, err
		}
		return e.runCommand(client, []string{"git", "commit", "-m", message}, cwd)

	case "git_push":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		remote := paramStrDefault(params, "remote", "origin")
		branch := paramStrDefault(params, "branch", "main")
		return e.runCommand(client, []string{"git", "push", "-u", remote, branch}, cwd)

	case "gh_create_repo":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		repoName, err := requireStr(params, "repo_name")
		if err != nil {
			return nil, err
		}
		if !repoNameRe.MatchString(repoName) {
			return &types.ExecResult{ReturnCode: 1, Stderr: "Invalid repo name characters."}, nil
		}
		visibility := "--public"
		if b, ok := params["private"].(bool); ok && b {
			visibility = "--private"
		}
		args := []string{"gh", "repo", "create", repoName, visibility, "--source=.", "--push"}
		if d, ok := params["description"].(string); ok && d != "" {
			args = append(args, "--description", d)
		}
		return e.runCommand(client, args, cwd)

	case "open_in_vscode":
		path, err := requireStr(params, "path")
		if err != nil {
			return nil, err
		}
		return e.runCommand(client, []string{"code", path}, "")

	case "docker_build":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		tag := paramStrDefault(params, "tag", "relay-build:latest")
		if !dockerTagRe.MatchString(tag) {
			return &types.ExecResult{ReturnCode: 1, Stderr: "Invalid Docker tag characters."}, nil
		}
		return e.runCommand(client, []string{"docker", "build", "-t", tag, "."}, cwd)

	case "docker_compose_up":
		cwd, err := requireStr(params, "working_dir")
		if err != nil {
			return nil, err
		}
		return e.runCommand(client, []string{"docker", "compose", "up", "-d"}, cwd)

	case "close_app":
		appName, err := requireStr(params, "app")
		if err != nil {
			return nil, err
		}
		exe, ok := closeableApps[appName]
		if !ok {
			return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("'%s' is not in the allowed list.", appName)}, nil
		}
		if e.cfg.SSHRemoteOS != "windows" {
			return &types.ExecResult{ReturnCode: 1, Stderr: "close_app currently supports Windows remote hosts only."}, nil
		}
		return e.runCommand(client, []string{"taskkill", "/F", "/IM", exe}, "")

	default:
		return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("Action '%s' is not supported in SSH tunnel mode.", action)}, nil
	}
}

func joinRemote(remoteOS, parent, child string) string {
	if parent == "" {
		return child
	}
	if remoteOS == "windows" {
		return parent + "\\" + child
	}
	return parent + "/" + child
}
