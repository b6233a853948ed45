package executor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/nodebridge/relay/pkg/types"
)

func requireParam(params types.Params, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required parameter: '%s'", key)
	}
	return v, nil
}

func errResult(format string, args ...any) *types.ExecResult {
	return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf(format, args...)}
}

// --- AUTO-tier actions ------------------------------------------------

func gitStatus(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	return runArgv(ctx, cwd, DefaultTimeout, "git", "status", "--porcelain")
}

func runTests(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	switch paramString(params, "runner", "pytest") {
	case "pytest":
		return runArgv(ctx, cwd, DefaultTimeout, "python", "-m", "pytest", "--tb=short", "-q")
	case "npm":
		return runArgv(ctx, cwd, DefaultTimeout, "npm", "test")
	default:
		return errResult("Unknown runner: %s", paramString(params, "runner", "")), nil
	}
}

func lintProject(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	switch paramString(params, "linter", "ruff") {
	case "ruff":
		return runArgv(ctx, cwd, DefaultTimeout, "python", "-m", "ruff", "check", ".")
	case "eslint":
		return runArgv(ctx, cwd, DefaultTimeout, "npx", "eslint", ".")
	default:
		return errResult("Unknown linter: %s", paramString(params, "linter", "")), nil
	}
}

func startDevServer(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	switch paramString(params, "framework", "npm") {
	case "npm":
		pid, err := spawnDetached(cwd, "npm", "run", "dev")
		if err != nil {
			return nil, err
		}
		return &types.ExecResult{ReturnCode: 0, Stdout: fmt.Sprintf("Dev server started (pid=%d).", pid)}, nil
	case "uvicorn":
		appModule := paramString(params, "app_module", "main:app")
		pid, err := spawnDetached(cwd, "python", "-m", "uvicorn", appModule, "--reload")
		if err != nil {
			return nil, err
		}
		return &types.ExecResult{ReturnCode: 0, Stdout: fmt.Sprintf("Uvicorn started (pid=%d).", pid)}, nil
	default:
		return errResult("Unknown framework: %s", paramString(params, "framework", "")), nil
	}
}

func buildProject(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	switch paramString(params, "build_tool", "npm") {
	case "npm":
		return runArgv(ctx, cwd, DefaultTimeout, "npm", "run", "build")
	case "python":
		return runArgv(ctx, cwd, DefaultTimeout, "python", "-m", "build")
	default:
		return errResult("Unknown build tool: %s", paramString(params, "build_tool", "")), nil
	}
}

func fileRead(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	path, err := requireParam(params, "file")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errResult("%v", err), nil
	}
	content := string(data)
	if len(content) > MaxFileReadBytes {
		content = content[:MaxFileReadBytes] + "\n... (truncated at 64 KB)"
	}
	return &types.ExecResult{ReturnCode: 0, Stdout: content}, nil
}

func listDirectory(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	dir, err := requireParam(params, "directory")
	if err != nil {
		return nil, err
	}
	recursive, _ := params["recursive"].(bool)
	listing, err := listDirSync(dir, recursive, 0)
	if err != nil {
		return errResult("%v", err), nil
	}
	return &types.ExecResult{ReturnCode: 0, Stdout: listing}, nil
}

func listDirSync(dir string, recursive bool, depth int) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out string
	count := 0
	prefix := ""
	for i := 0; i < depth; i++ {
		prefix += "  "
	}
	for _, e := range entries {
		if count >= MaxListEntries {
			out += "... (truncated)\n"
			break
		}
		if e.IsDir() {
			out += prefix + "[DIR] " + e.Name() + "/\n"
			if recursive && depth < MaxListDepth {
				sub, err := listDirSync(dir+string(os.PathSeparator)+e.Name(), true, depth+1)
				if err == nil {
					out += sub
				}
			}
		} else {
			info, err := e.Info()
			size := int64(0)
			if err == nil {
				size = info.Size()
			}
			out += fmt.Sprintf("%s%s  (%d bytes)\n", prefix, e.Name(), size)
		}
		count++
	}
	return out, nil
}

func checkCodingAgents(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	return &types.ExecResult{ReturnCode: 0, Stdout: "No coding agents configured."}, nil
}

func runCodingAgent(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	return errResult("Coding agent execution is not configured on this Worker."), nil
}

func webSearch(fn SearchFunc) Func {
	if fn == nil {
		fn = func(ctx context.Context, params types.Params) (*types.ExecResult, error) {
			return &types.ExecResult{ReturnCode: 1, Stderr: "web_search backend is not configured."}, nil
		}
	}
	return func(ctx context.Context, params types.Params) (*types.ExecResult, error) {
		return fn(ctx, params)
	}
}

// --- CONFIRM-tier actions ----------------------------------------------

func gitCommit(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	message, err := requireParam(params, "message")
	if err != nil {
		return nil, err
	}
	staged, err := runArgv(ctx, cwd, DefaultTimeout, "git", "add", "-u")
	if err != nil {
		return nil, err
	}
	if staged.ReturnCode != 0 {
		return staged, nil
	}
	return runArgv(ctx, cwd, DefaultTimeout, "git", "commit", "-m", message)
}

func installDependencies(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	switch paramString(params, "manager", "pip") {
	case "pip":
		reqFile := cwd + string(os.PathSeparator) + "requirements.txt"
		return runArgv(ctx, cwd, InstallTimeout, "python", "-m", "pip", "install", "-r", reqFile)
	case "npm":
		return runArgv(ctx, cwd, InstallTimeout, "npm", "install")
	default:
		return errResult("Unknown manager: %s", paramString(params, "manager", "")), nil
	}
}

func fileWrite(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	path, err := requireParam(params, "file")
	if err != nil {
		return nil, err
	}
	content, _ := params["content"].(string)
	if len(content) > MaxFileWriteBytes {
		return errResult("Content exceeds 1 MB limit."), nil
	}
	if err := writeFileWithParents(path, content); err != nil {
		return errResult("%v", err), nil
	}
	return &types.ExecResult{ReturnCode: 0, Stdout: fmt.Sprintf("Wrote %d bytes to %s.", len(content), path)}, nil
}

func createDirectory(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	dir, err := requireParam(params, "directory")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errResult("%v", err), nil
	}
	return &types.ExecResult{ReturnCode: 0, Stdout: "Created " + dir}, nil
}

func gitInit(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	result, err := runArgv(ctx, cwd, DefaultTimeout, "git", "init")
	if err != nil {
		return nil, err
	}
	if result.ReturnCode == 0 {
		_, _ = runArgv(ctx, cwd, DefaultTimeout, "git", "checkout", "-b", "main")
	}
	return result, nil
}

func gitAddAll(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	return runArgv(ctx, cwd, DefaultTimeout, "git", "add", "-A")
}

func gitPush(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	remote := paramString(params, "remote", "origin")
	branch := paramString(params, "branch", "main")
	return runArgv(ctx, cwd, DefaultTimeout, "git", "push", "-u", remote, branch)
}

var repoNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func ghCreateRepo(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	repoName, err := requireParam(params, "repo_name")
	if err != nil {
		return nil, err
	}
	if !repoNameRe.MatchString(repoName) {
		return errResult("Invalid repo name characters."), nil
	}
	visibility := "--public"
	if private, _ := params["private"].(bool); private {
		visibility = "--private"
	}
	args := []string{"repo", "create", repoName, visibility, "--source=.", "--push"}
	if desc := paramString(params, "description", ""); desc != "" {
		args = append(args, "--description", desc)
	}
	return runArgv(ctx, cwd, 60*time.Second, "gh", args...)
}

func openInVSCode(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	path, err := requireParam(params, "path")
	if err != nil {
		return nil, err
	}
	return runArgv(ctx, "", DefaultTimeout, "code", path)
}

var dockerTagRe = regexp.MustCompile(`^[a-zA-Z0-9._/:@-]+$`)

func dockerBuild(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	tag := paramString(params, "tag", "relay-build:latest")
	if !dockerTagRe.MatchString(tag) {
		return errResult("Invalid Docker tag characters."), nil
	}
	return runArgv(ctx, cwd, DockerBuildTimeout, "docker", "build", "-t", tag, ".")
}

func dockerComposeUp(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	cwd, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	return runArgv(ctx, cwd, InstallTimeout, "docker", "compose", "up", "-d")
}

func closeApp(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	appName, err := requireParam(params, "app")
	if err != nil {
		return nil, err
	}
	exe, ok := AllowedApps[appName]
	if !ok {
		names := make([]string, 0, len(AllowedApps))
		for k := range AllowedApps {
			names = append(names, k)
		}
		sort.Strings(names)
		return errResult("'%s' is not in the allowed list. Allowed: %s", appName, joinComma(names)), nil
	}
	return runArgv(ctx, "", DefaultTimeout, "taskkill", "/F", "/IM", exe)
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
