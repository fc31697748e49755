package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxValueBytes bounds a single preference value.
const DefaultMaxValueBytes = 1 << 20

// SQLiteBackend stores preferences in the prefs table.
type SQLiteBackend struct {
	db       *sql.DB
	maxBytes int
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db, maxBytes: DefaultMaxValueBytes}
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?;", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read preference: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("stored preference is invalid JSON for key=%q", key)
	}
	return json.RawMessage(raw), true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, value json.RawMessage) error {
	if len(value) > b.maxBytes {
		return fmt.Errorf("preference exceeds max size (%d bytes)", b.maxBytes)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := b.db.ExecContext(ctx, `
INSERT INTO prefs(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, string(value), now)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}
