package executor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/nodebridge/relay/pkg/types"
)

var zipExcludeDirs = map[string]bool{
	"node_modules": true, "__pycache__": true, ".git": true,
	"venv": true, ".venv": true, "dist": true, "build": true, ".next": true,
}

// zipProject walks working_dir, skipping the excluded generated
// directories, and streams the result into an in-memory deflate
// archive capped at MaxZipBytes compressed, returned base64-encoded.
// klauspost/compress/flate is registered as the zip writer's deflate
// implementation for a faster, allocation-lighter compressor than the
// standard library default.
func zipProject(ctx context.Context, params types.Params) (*types.ExecResult, error) {
	workingDir, err := requireParam(params, "working_dir")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(workingDir)
	if err != nil || !info.IsDir() {
		return errResult("Not a directory: %s", workingDir), nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	fileCount := 0
	aborted := false

	err = filepath.WalkDir(workingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != workingDir && zipExcludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if buf.Len() > MaxZipBytes {
			aborted = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // skip unreadable files
		}
		w, zerr := zw.Create(rel)
		if zerr != nil {
			return nil
		}
		if _, werr := w.Write(data); werr == nil {
			fileCount++
		}
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return errResult("Zip error: %v", err), nil
	}
	if aborted {
		_ = zw.Close()
		return errResult("Zip exceeds %d MB limit.", MaxZipBytes/(1024*1024)), nil
	}
	if err := zw.Close(); err != nil {
		return errResult("Zip error: %v", err), nil
	}

	zipBytes := buf.Bytes()
	if len(zipBytes) > MaxZipBytes {
		return errResult("Zip exceeds %d MB limit.", MaxZipBytes/(1024*1024)), nil
	}

	encoded := base64.StdEncoding.EncodeToString(zipBytes)
	return &types.ExecResult{
		ReturnCode: 0,
		Stdout:     encoded,
		Stderr:     fmt.Sprintf("Zipped %d files (%d bytes)", fileCount, len(zipBytes)),
	}, nil
}
