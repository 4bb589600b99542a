// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for reconciliation state: signatures
// the engine has already processed and the most recent on-chain balance
// snapshot per mint. Position state itself lives in the JSON position store,
// not here.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "curvewatch.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings table: a generic key/value store for small pieces of engine
	-- state. No package reads or writes it.
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Signature cache: every transaction signature the reconciler has
	-- already fetched and parsed, so its signature-history scan skips
	-- signatures it has already seen instead of fetching them again.
	CREATE TABLE IF NOT EXISTS signature_cache (
		signature TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		mint TEXT NOT NULL,
		kind TEXT NOT NULL,
		slot INTEGER NOT NULL,
		processed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signature_cache_position ON signature_cache(position_id);
	CREATE INDEX IF NOT EXISTS idx_signature_cache_mint ON signature_cache(mint);

	-- Balance snapshots: the last known on-chain token-account balance per
	-- mint, written and read through SaveBalanceSnapshot/GetBalanceSnapshot.
	-- The reconciler does not use it; it reads the live balance instead.
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		mint TEXT PRIMARY KEY,
		amount_raw INTEGER NOT NULL,
		observed_at INTEGER NOT NULL,
		source TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
