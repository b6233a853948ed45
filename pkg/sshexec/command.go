package sshexec

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf16"
)

// psQuote single-quotes a PowerShell argument, doubling embedded quotes.
func psQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// buildWindowsCommand assembles a base64-encoded PowerShell
// -EncodedCommand invocation, mirroring the reference's approach to
// sidestep cmd.exe quoting entirely.
func buildWindowsCommand(args []string, cwd string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = psQuote(a)
	}

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("$ProgressPreference = 'SilentlyContinue'\n")
	if cwd != "" {
		b.WriteString("Set-Location -LiteralPath " + psQuote(cwd) + "\n")
	}
	b.WriteString("& " + strings.Join(quoted, " ") + "\n")
	b.WriteString("$code = $LASTEXITCODE\n")
	b.WriteString("if ($null -eq $code) { $code = 0 }\n")
	b.WriteString("exit $code")

	encoded := base64.StdEncoding.EncodeToString(utf16leBytes(b.String()))
	return "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -EncodedCommand " + encoded
}

func utf16leBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

// posixQuote single-quotes a POSIX shell argument.
func posixQuote(v string) string {
	if v == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// posixSafe matches arguments made only of characters with no special
// meaning to a POSIX shell, which can be passed unquoted.
var posixSafe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// buildLinuxCommand joins args as a POSIX argv, single-quoting every
// argument that contains a character outside posixSafe, optionally
// prefixed with a change to the (always quoted) directory.
func buildLinuxCommand(args []string, cwd string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if posixSafe.MatchString(a) {
			quoted[i] = a
		} else {
			quoted[i] = posixQuote(a)
		}
	}
	run := strings.Join(quoted, " ")
	if cwd != "" {
		return "cd " + posixQuote(cwd) + " && " + run
	}
	return run
}

func buildCommand(remoteOS string, args []string, cwd string) string {
	if remoteOS == "windows" {
		return buildWindowsCommand(args, cwd)
	}
	return buildLinuxCommand(args, cwd)
}

var clixmlBlock = regexp.MustCompile(`(?s)<S S="(?:Error|Warning|Verbose)">(.*?)</S>`)
var xmlTag = regexp.MustCompile(`<[^>]+>`)

// sanitizePowerShellOutput undoes CLIXML escaping and strips
// serialized-object wrappers PowerShell emits for non-text output.
func sanitizePowerShellOutput(text string) string {
	if text == "" {
		return text
	}
	cleaned := strings.ReplaceAll(text, "_x000D__x000A_", "\n")
	cleaned = strings.ReplaceAll(cleaned, "_x000D_", "\r")
	cleaned = strings.ReplaceAll(cleaned, "_x000A_", "\n")

	if strings.Contains(cleaned, "<Objs Version=") && strings.Contains(cleaned, "</Objs>") {
		matches := clixmlBlock.FindAllStringSubmatch(cleaned, -1)
		if len(matches) > 0 {
			parts := make([]string, len(matches))
			for i, m := range matches {
				parts[i] = m[1]
			}
			cleaned = strings.Join(parts, "\n")
		} else {
			cleaned = xmlTag.ReplaceAllString(cleaned, "")
		}
	}
	return strings.TrimSpace(cleaned)
}
