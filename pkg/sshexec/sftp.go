package sshexec

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/nodebridge/relay/pkg/types"
)

const (
	maxFileReadBytes = 64 * 1024
	maxFileWriteBytes = 1024 * 1024
	maxListEntries    = 500
	maxListDepth      = 3
)

func (e *Executor) fileRead(client *ssh.Client, params types.Params) (*types.ExecResult, error) {
	path, err := requireStr(params, "file")
	if err != nil {
		return nil, err
	}

	client2, ferr := sftp.NewClient(client)
	if ferr == nil {
		defer client2.Close()
		f, openErr := client2.Open(path)
		if openErr == nil {
			defer f.Close()
			data, readErr := io.ReadAll(io.LimitReader(f, maxFileReadBytes+1))
			if readErr == nil {
				content := string(data)
				if len(content) > maxFileReadBytes {
					content = content[:maxFileReadBytes] + "\n... (truncated at 64 KB)"
				}
				return &types.ExecResult{ReturnCode: 0, Stdout: content}, nil
			}
		}
	}

	if e.cfg.SSHRemoteOS == "windows" {
		ps := fmt.Sprintf(
			"$p=%s; $c=Get-Content -LiteralPath $p -Raw -Encoding UTF8; "+
				"if ($c.Length -gt 65536) { $c.Substring(0,65536) + \"`n... (truncated at 64 KB)\" } else { $c }",
			psQuote(path))
		return e.runCommand(client, []string{"powershell", "-NoProfile", "-Command", ps}, "")
	}
	return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("unable to read %s", path)}, nil
}

func (e *Executor) fileWrite(client *ssh.Client, params types.Params) (*types.ExecResult, error) {
	path, err := requireStr(params, "file")
	if err != nil {
		return nil, err
	}
	content, _ := params["content"].(string)
	if len(content) > maxFileWriteBytes {
		return &types.ExecResult{ReturnCode: 1, Stderr: "Content exceeds 1 MB limit."}, nil
	}

	client2, ferr := sftp.NewClient(client)
	if ferr == nil {
		defer client2.Close()
		if mkdirErr := sftpMakeDirs(client2, parentDir(path, e.cfg.SSHRemoteOS)); mkdirErr == nil {
			f, createErr := client2.Create(path)
			if createErr == nil {
				defer f.Close()
				if _, writeErr := f.Write([]byte(content)); writeErr == nil {
					return &types.ExecResult{ReturnCode: 0, Stdout: fmt.Sprintf("Wrote %d bytes to %s.", len(content), path)}, nil
				}
			}
		}
	}

	if e.cfg.SSHRemoteOS == "windows" {
		encoded := base64.StdEncoding.EncodeToString([]byte(content))
		ps := fmt.Sprintf(
			"$p=%s; $d=Split-Path -Parent $p; if ($d) { New-Item -ItemType Directory -Path $d -Force | Out-Null }; "+
				"$bytes=[System.Convert]::FromBase64String('%s'); [System.IO.File]::WriteAllBytes($p,$bytes);",
			psQuote(path), encoded)
		return e.runCommand(client, []string{"powershell", "-NoProfile", "-Command", ps}, "")
	}
	return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("unable to write %s", path)}, nil
}

func (e *Executor) createDirectory(client *ssh.Client, params types.Params) (*types.ExecResult, error) {
	directory, err := requireStr(params, "directory")
	if err != nil {
		return nil, err
	}

	client2, ferr := sftp.NewClient(client)
	if ferr == nil {
		defer client2.Close()
		if mkdirErr := sftpMakeDirs(client2, directory); mkdirErr == nil {
			return &types.ExecResult{ReturnCode: 0, Stdout: fmt.Sprintf("Created %s", directory)}, nil
		}
	}

	if e.cfg.SSHRemoteOS == "windows" {
		ps := fmt.Sprintf("$d=%s; New-Item -ItemType Directory -Path $d -Force | Out-Null; Write-Output \"Created $d\"", psQuote(directory))
		return e.runCommand(client, []string{"powershell", "-NoProfile", "-Command", ps}, "")
	}
	return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("unable to create %s", directory)}, nil
}

func (e *Executor) listDirectory(client *ssh.Client, params types.Params) (*types.ExecResult, error) {
	directory, err := requireStr(params, "directory")
	if err != nil {
		return nil, err
	}
	recursive, _ := params["recursive"].(bool)

	client2, ferr := sftp.NewClient(client)
	if ferr == nil {
		defer client2.Close()
		var lines []string
		count := 0
		if walkErr := walkSFTP(client2, directory, recursive, 0, e.cfg.SSHRemoteOS, &lines, &count); walkErr == nil {
			return &types.ExecResult{ReturnCode: 0, Stdout: strings.Join(lines, "\n")}, nil
		}
	}

	if e.cfg.SSHRemoteOS == "windows" {
		var ps string
		if recursive {
			ps = fmt.Sprintf("$d=%s; Get-ChildItem -LiteralPath $d -Recurse -Force | "+
				"Select-Object FullName,Length,PSIsContainer | ForEach-Object { "+
				"if ($_.PSIsContainer) { \"[DIR] $($_.FullName)\" } else { \"$($_.FullName)  ($($_.Length) bytes)\" } }", psQuote(directory))
		} else {
			ps = fmt.Sprintf("$d=%s; Get-ChildItem -LiteralPath $d -Force | ForEach-Object { "+
				"if ($_.PSIsContainer) { \"[DIR] $($_.Name)/\" } else { \"$($_.Name)  ($($_.Length) bytes)\" } }", psQuote(directory))
		}
		return e.runCommand(client, []string{"powershell", "-NoProfile", "-Command", ps}, "")
	}
	return &types.ExecResult{ReturnCode: 1, Stderr: fmt.Sprintf("unable to list %s", directory)}, nil
}

func parentDir(path, remoteOS string) string {
	sep := "/"
	if remoteOS == "windows" {
		sep = "\\"
	}
	idx := strings.LastIndex(path, sep)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func sftpMakeDirs(client *sftp.Client, path string) error {
	if path == "" {
		return nil
	}
	path = strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := ""
	if strings.HasPrefix(path, "/") {
		current = "/"
	}
	for _, p := range parts {
		if p == "" {
			continue
		}
		if current == "" || current == "/" {
			current = current + p
		} else {
			current = current + "/" + p
		}
		if _, err := client.Stat(current); err != nil {
			if err := client.Mkdir(current); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkSFTP(client *sftp.Client, directory string, recursive bool, depth int, remoteOS string, out *[]string, count *int) error {
	entries, err := client.ReadDir(directory)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	prefix := strings.Repeat("  ", depth)
	for _, entry := range entries {
		if *count >= maxListEntries {
			*out = append(*out, "... (truncated)")
			return nil
		}
		path := joinRemote(remoteOS, directory, entry.Name())
		if entry.IsDir() {
			*out = append(*out, fmt.Sprintf("%s[DIR] %s/", prefix, entry.Name()))
			*count++
			if recursive && depth < maxListDepth {
				_ = walkSFTP(client, path, true, depth+1, remoteOS, out, count)
			}
			continue
		}
		*out = append(*out, fmt.Sprintf("%s%s  (%d bytes)", prefix, entry.Name(), entry.Size()))
		*count++
	}
	return nil
}
