// Package store provides namespaced, TTL-aware key/value storage for the
// contract flow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "", "namespace", cfg.Namespace)

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the kv table exists
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db, namespace: cfg.Namespace, now: time.Now}, nil
}

// Set stores value under key with an optional TTL (0 means no expiry).
func (s *PostgresStore) Set(key string, value any, ttl time.Duration) error {
	rec, err := encodeRecord(value, ttl, s.now())
	if err != nil {
		slog.Error("PostgresStore Set marshal failed", "error", err, "key", key)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO kv_entries (namespace, key, value, written_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, written_at = EXCLUDED.written_at, expires_at = EXCLUDED.expires_at`,
		s.namespace, key, string(rec.Value), rec.WrittenAt, rec.ExpiresAt)
	if err != nil {
		slog.Error("PostgresStore Set failed", "error", err, "key", key)
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	slog.Debug("PostgresStore Set succeeded", "key", key, "ttl", ttl)
	return nil
}

// Get retrieves key into dest. Expired records are deleted and reported
// as a miss.
func (s *PostgresStore) Get(key string, dest any) (bool, error) {
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`SELECT value, expires_at FROM kv_entries WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get query failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to query %s: %w", key, err)
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		if _, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`, s.namespace, key); err != nil {
			slog.Error("PostgresStore Get expiry cleanup failed", "error", err, "key", key)
		}
		slog.Debug("PostgresStore Get expired record discarded", "key", key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		slog.Error("PostgresStore Get unmarshal failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to unmarshal value for %s: %w", key, err)
	}
	return true, nil
}

// Remove deletes key if present.
func (s *PostgresStore) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`, s.namespace, key)
	if err != nil {
		slog.Error("PostgresStore Remove failed", "error", err, "key", key)
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Clear deletes all records in this store's namespace.
func (s *PostgresStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE namespace = $1`, s.namespace)
	if err != nil {
		slog.Error("PostgresStore Clear failed", "error", err, "namespace", s.namespace)
		return fmt.Errorf("failed to clear namespace %s: %w", s.namespace, err)
	}
	slog.Debug("PostgresStore Clear succeeded", "namespace", s.namespace)
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
