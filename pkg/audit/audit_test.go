package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodebridge/relay/pkg/types"
)

func TestRecordWritesOneLinePerCall(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	l.Record("req-1", "git_status", types.TierAuto, nil, types.OutcomeExecuted, "", 5*time.Millisecond)
	l.Record("req-2", "file_read", types.TierAuto, nil, types.OutcomeBlocked, "implicitly blocked", time.Millisecond)
	l.Close()

	f, err := os.Open(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var rec types.AuditRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "req-1", rec.RequestID)
	require.Equal(t, types.OutcomeExecuted, rec.Outcome)
}

func TestDirectoryCreatedLazily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := os.Stat(dir)
	require.Error(t, err)

	l := New(dir)
	l.Record("req-1", "git_status", types.TierAuto, nil, types.OutcomeExecuted, "", time.Millisecond)
	l.Close()

	_, err = os.Stat(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
}
