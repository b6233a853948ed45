// Package audit implements the Worker's append-only JSONL trail
// (§4.E): one record per request, single-writer, offloaded so the
// dispatch loop never blocks on disk.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/types"
)

// Logger serialises writes to a single JSONL file through one
// goroutine so concurrent dispatches never interleave lines.
type Logger struct {
	path    string
	records chan types.AuditRecord
	done    chan struct{}
	once    sync.Once
}

// New creates the audit directory lazily on first Record call (not
// at construction) and starts the background writer goroutine.
func New(dir string) *Logger {
	l := &Logger{
		path:    filepath.Join(dir, "audit.jsonl"),
		records: make(chan types.AuditRecord, 256),
		done:    make(chan struct{}),
	}
	go l.run(dir)
	return l
}

func (l *Logger) run(dir string) {
	defer close(l.done)

	var f *os.File
	for rec := range l.records {
		if f == nil {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Errorf("audit: create log directory: %v", err)
				continue
			}
			opened, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				log.Errorf("audit: open log file: %v", err)
				continue
			}
			f = opened
			defer f.Close()
		}
		line, err := json.Marshal(rec)
		if err != nil {
			log.Errorf("audit: marshal record: %v", err)
			continue
		}
		line = append(line, '\n')
		if _, err := f.Write(line); err != nil {
			log.Errorf("audit: write record: %v", err)
		}
	}
}

// Record queues an audit entry. Never blocks the caller on disk I/O;
// drops the record (logging the drop) if the internal queue is full.
func (l *Logger) Record(requestID, action string, tier types.Tier, params types.Params, outcome types.AuditOutcome, detail string, duration time.Duration) {
	now := time.Now().UTC()
	rec := types.AuditRecord{
		Timestamp:  now,
		Epoch:      float64(now.UnixNano()) / 1e9,
		RequestID:  requestID,
		Action:     action,
		Tier:       tier,
		Params:     params,
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: duration.Milliseconds(),
	}
	select {
	case l.records <- rec:
	default:
		log.Error("audit: queue full, dropping record")
	}
}

// Close stops accepting new records and waits for the writer to
// drain and close the file.
func (l *Logger) Close() {
	l.once.Do(func() {
		close(l.records)
	})
	<-l.done
}
