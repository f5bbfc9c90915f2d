package store

import (
	"database/sql"
	"errors"
	"time"
)

// LoadState returns the value stored under key. ok is false when nothing has
// been persisted yet.
func (db *DB) LoadState(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SaveState upserts key.
func (db *DB) SaveState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// DeleteState removes key. Missing keys are not an error.
func (db *DB) DeleteState(key string) error {
	_, err := db.Exec(`DELETE FROM kv_state WHERE key = ?`, key)
	return err
}
