// Package persistence stores the city snapshot durably: in SQLite for the
// running game, or as a compressed file for exports.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// StateKey is the key the snapshot is stored under.
const StateKey = "citygame@state"

// FinanceKey is the key the finance book is stored under.
const FinanceKey = "citygame@finance"

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collected_at INTEGER NOT NULL,
		amount REAL NOT NULL,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collections_at ON collections(collected_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Put stores value under key, replacing any previous value.
func (db *DB) Put(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UnixMilli(),
	)
	return err
}

// Get returns the value under key. A missing key returns ok == false.
func (db *DB) Get(key string) (value string, ok bool, err error) {
	err = db.conn.Get(&value, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	_, err := db.conn.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Collection is one recorded payout.
type Collection struct {
	ID          int64   `db:"id" json:"id"`
	CollectedAt int64   `db:"collected_at" json:"collectedAt"`
	Amount      float64 `db:"amount" json:"amount"`
	Source      string  `db:"source" json:"source"`
}

// RecordCollection appends a payout to the history.
func (db *DB) RecordCollection(at time.Time, amount float64, source string) error {
	_, err := db.conn.Exec(
		"INSERT INTO collections (collected_at, amount, source) VALUES (?, ?, ?)",
		at.UnixMilli(), amount, source,
	)
	return err
}

// RecentCollections returns the most recent N payouts, newest first.
func (db *DB) RecentCollections(limit int) ([]Collection, error) {
	var out []Collection
	err := db.conn.Select(&out,
		"SELECT id, collected_at, amount, source FROM collections ORDER BY id DESC LIMIT ?",
		limit,
	)
	return out, err
}

// ClearCollections drops the payout history.
func (db *DB) ClearCollections() error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM collections"); err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sqlite_sequence WHERE name = 'collections'"); err != nil {
		return fmt.Errorf("reset collection ids: %w", err)
	}
	return tx.Commit()
}
