// Package store provides namespaced, TTL-aware key/value storage for the
// contract flow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "", "namespace", cfg.Namespace)

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, namespace: cfg.Namespace, now: time.Now}, nil
}

// Set stores value under key with an optional TTL (0 means no expiry).
func (s *SQLiteStore) Set(key string, value any, ttl time.Duration) error {
	rec, err := encodeRecord(value, ttl, s.now())
	if err != nil {
		slog.Error("SQLiteStore Set marshal failed", "error", err, "key", key)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO kv_entries (namespace, key, value, written_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		s.namespace, key, string(rec.Value), rec.WrittenAt, rec.ExpiresAt)
	if err != nil {
		slog.Error("SQLiteStore Set failed", "error", err, "key", key)
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	slog.Debug("SQLiteStore Set succeeded", "key", key, "ttl", ttl)
	return nil
}

// Get retrieves key into dest. Expired records are deleted and reported
// as a miss.
func (s *SQLiteStore) Get(key string, dest any) (bool, error) {
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`SELECT value, expires_at FROM kv_entries WHERE namespace = ? AND key = ?`,
		s.namespace, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get query failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to query %s: %w", key, err)
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		if _, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`, s.namespace, key); err != nil {
			slog.Error("SQLiteStore Get expiry cleanup failed", "error", err, "key", key)
		}
		slog.Debug("SQLiteStore Get expired record discarded", "key", key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		slog.Error("SQLiteStore Get unmarshal failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to unmarshal value for %s: %w", key, err)
	}
	return true, nil
}

// Remove deletes key if present.
func (s *SQLiteStore) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`, s.namespace, key)
	if err != nil {
		slog.Error("SQLiteStore Remove failed", "error", err, "key", key)
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Clear deletes all records in this store's namespace.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = ?`, s.namespace)
	if err != nil {
		slog.Error("SQLiteStore Clear failed", "error", err, "namespace", s.namespace)
		return fmt.Errorf("failed to clear namespace %s: %w", s.namespace, err)
	}
	slog.Debug("SQLiteStore Clear succeeded", "namespace", s.namespace)
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
