package store

import (
	"database/sql"
	"errors"
	"time"
)

// LoadState returns the raw value stored under key, or nil when the key is absent.
func (db *DB) LoadState(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow(`SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SaveState upserts the value stored under key.
func (db *DB) SaveState(key string, value []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO local_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// DeleteState removes key. Deleting an absent key is not an error.
func (db *DB) DeleteState(key string) error {
	_, err := db.Exec(`DELETE FROM local_state WHERE key = ?`, key)
	return err
}
