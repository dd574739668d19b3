package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vizionmakeit-commits/stockflow/dbopen"
)

// Schema holds the blob table. Keys are opaque to this package; the cache
// and the queue each own their own key.
const Schema = `
CREATE TABLE IF NOT EXISTS local_blobs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLite implements Store on a single SQLite table.
type SQLite struct {
	db    *sql.DB
	quota int64 // 0 = unlimited
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithQuota caps the total bytes of stored values. Zero (the default)
// disables the cap.
func WithQuota(bytes int64) SQLiteOption {
	return func(s *SQLite) { s.quota = bytes }
}

// NewSQLite creates the blob table if needed and returns a store over db.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{db: db}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("localstore: init schema: %w", err)
	}
	return s, nil
}

// Get returns the blob stored under key.
func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM local_blobs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes the blob under key, replacing any previous value. The quota
// check and the write run in one transaction so a concurrent writer cannot
// slip between them.
func (s *SQLite) Set(key, value string) error {
	ctx := context.Background()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if s.quota > 0 {
			var others int64
			err := tx.QueryRow(
				`SELECT COALESCE(SUM(LENGTH(CAST(value AS BLOB))), 0) FROM local_blobs WHERE key != ?`,
				key).Scan(&others)
			if err != nil {
				return fmt.Errorf("localstore: quota check: %w", err)
			}
			if need := others + int64(len(value)); need > s.quota {
				return &ErrQuotaExceeded{Key: key, Need: need, Quota: s.quota}
			}
		}
		_, err := tx.Exec(
			`INSERT INTO local_blobs (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("localstore: set %q: %w", key, err)
		}
		return nil
	})
}

// Remove deletes the blob under key; removing an absent key is a no-op.
func (s *SQLite) Remove(key string) error {
	if _, err := dbopen.Exec(context.Background(), s.db, `DELETE FROM local_blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("localstore: remove %q: %w", key, err)
	}
	return nil
}
