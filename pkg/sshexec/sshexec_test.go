package sshexec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodebridge/relay/pkg/config"
)

func TestBuildLinuxCommandQuotesArgs(t *testing.T) {
	cmd := buildLinuxCommand([]string{"git", "commit", "-m", "a b"}, "/home/x")
	require.Equal(t, `cd '/home/x' && git commit -m 'a b'`, cmd)
}

func TestBuildWindowsCommandIsEncoded(t *testing.T) {
	cmd := buildWindowsCommand([]string{"git", "status"}, `C:\proj`)
	require.Contains(t, cmd, "-EncodedCommand")
	require.NotContains(t, cmd, "git status")
}

func TestSanitizePowerShellOutputUnescapesCRLF(t *testing.T) {
	out := sanitizePowerShellOutput("line1_x000D__x000A_line2")
	require.Equal(t, "line1\nline2", out)
}

func TestSanitizePowerShellOutputStripsCLIXML(t *testing.T) {
	raw := `<Objs Version="1.1"><S S="Error">boom</S></Objs>`
	out := sanitizePowerShellOutput(raw)
	require.Equal(t, "boom", out)
}

func TestIsAllowedRemotePathLinux(t *testing.T) {
	roots := []string{"/home/dev"}
	require.True(t, isAllowedRemotePath("/home/dev/project", roots, "linux"))
	require.False(t, isAllowedRemotePath("/etc/passwd", roots, "linux"))
}

func TestIsAllowedRemotePathWindows(t *testing.T) {
	roots := []string{`E:\MyProjects`}
	require.True(t, isAllowedRemotePath(`E:\MyProjects\app`, roots, "windows"))
	require.False(t, isAllowedRemotePath(`C:\Windows\System32`, roots, "windows"))
}

func TestHealthCheckReportsUnconfigured(t *testing.T) {
	e := New(config.GatewayConfig{})
	ok, detail := e.HealthCheck(nil)
	require.False(t, ok)
	require.Equal(t, "SSH executor not configured", detail)
}
