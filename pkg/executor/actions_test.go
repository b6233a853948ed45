package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodebridge/relay/pkg/types"
)

func TestFileWriteRejectsOversizedContent(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxFileWriteBytes+1)
	result, err := fileWrite(context.Background(), types.Params{
		"file":    filepath.Join(dir, "out.txt"),
		"content": string(big),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
	require.Contains(t, result.Stderr, "1 MB limit")
}

func TestFileWriteCreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.txt")
	result, err := fileWrite(context.Background(), types.Params{"file": target, "content": "hello"})
	require.NoError(t, err)
	require.Equal(t, 0, result.ReturnCode)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestFileReadTruncatesAt64KB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	content := make([]byte, MaxFileReadBytes+100)
	for i := range content {
		content[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	result, err := fileRead(context.Background(), types.Params{"file": path})
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "truncated at 64 KB")
}

func TestFileReadMissing(t *testing.T) {
	result, err := fileRead(context.Background(), types.Params{"file": "/nonexistent/path/file.txt"})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
}

func TestListDirectoryOrdersAndPrefixesDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "afile.txt"), []byte("hi"), 0o644))

	result, err := listDirectory(context.Background(), types.Params{"directory": dir})
	require.NoError(t, err)
	require.Equal(t, 0, result.ReturnCode)
	require.Contains(t, result.Stdout, "afile.txt")
	require.Contains(t, result.Stdout, "[DIR] zdir/")
}

func TestCloseAppRejectsUnknownApp(t *testing.T) {
	result, err := closeApp(context.Background(), types.Params{"app": "not-a-real-app"})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
	require.Contains(t, result.Stderr, "not in the allowed list")
}

func TestDockerBuildRejectsInvalidTag(t *testing.T) {
	result, err := dockerBuild(context.Background(), types.Params{
		"working_dir": t.TempDir(),
		"tag":         "bad tag; rm -rf /",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
	require.Contains(t, result.Stderr, "Invalid Docker tag")
}

func TestGhCreateRepoRejectsInvalidName(t *testing.T) {
	result, err := ghCreateRepo(context.Background(), types.Params{
		"working_dir": t.TempDir(),
		"repo_name":   "not valid!",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
}

func TestRequireParamMissing(t *testing.T) {
	_, err := requireParam(types.Params{}, "working_dir")
	require.Error(t, err)
}

func TestZipProjectRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	result, err := zipProject(context.Background(), types.Params{"working_dir": file})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReturnCode)
}

func TestZipProjectSkipsExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	result, err := zipProject(context.Background(), types.Params{"working_dir": dir})
	require.NoError(t, err)
	require.Equal(t, 0, result.ReturnCode)
	require.Contains(t, result.Stderr, "Zipped 1 files")
}
