package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mfcarvalho/chatsync/internal/kv"
)

// Get retrieves a KV value. DB satisfies kv.Store, so presence snapshots and
// other small state land in the same database as the messages.
func (db *DB) Get(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores a KV value, overwriting any previous one.
func (db *DB) Set(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}
