package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nodebridge/relay/pkg/types"
)

// IdempotencyStore persists the (task_id, idempotency_key) -> response
// mapping so a retried submission of the same action replays the
// original result instead of re-executing it (§5 Invariant).
type IdempotencyStore struct {
	db *sql.DB
}

// OpenIdempotencyStore opens (creating if absent) the sqlite database
// at path and ensures the action_idempotency table exists.
func OpenIdempotencyStore(path string) (*IdempotencyStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open idempotency db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	const schema = `
CREATE TABLE IF NOT EXISTS action_idempotency (
	task_id          TEXT NOT NULL,
	idempotency_key  TEXT NOT NULL,
	response_json    TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (task_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_action_idempotency_created ON action_idempotency(created_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create idempotency schema: %w", err)
	}
	return &IdempotencyStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error { return s.db.Close() }

// Load returns the cached response for (taskID, idempotencyKey), or
// (nil, nil) if nothing has been stored yet.
func (s *IdempotencyStore) Load(ctx context.Context, taskID, idempotencyKey string) (*types.Response, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT response_json FROM action_idempotency WHERE task_id = ? AND idempotency_key = ?`,
		taskID, idempotencyKey)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load cached response: %w", err)
	}

	var resp types.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

// Store persists resp against (taskID, idempotencyKey), replacing any
// prior entry.
func (s *IdempotencyStore) Store(ctx context.Context, taskID, idempotencyKey string, resp types.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO action_idempotency (task_id, idempotency_key, response_json, created_at)
		 VALUES (?, ?, ?, datetime('now'))`,
		taskID, idempotencyKey, string(raw))
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}
	return nil
}
