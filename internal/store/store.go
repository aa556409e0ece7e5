// Package store provides namespaced, TTL-aware key/value storage for the
// contract flow.
//
// It includes an in-memory store and persistent SQLite/Postgres backends.
// Every record is wrapped with its write time and optional expiry; reads
// past the expiry delete the record and report a miss.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultNamespace prefixes all flow keys so Clear never touches
// unrelated application data sharing the same database.
const DefaultNamespace = "contractflow"

// Store is the key/value contract shared by all backends. Values are
// JSON-serialized; Get unmarshals into dest and reports whether a live
// record was found.
type Store interface {
	Set(key string, value any, ttl time.Duration) error
	Get(key string, dest any) (bool, error)
	Remove(key string) error
	Clear() error
	Close() error
}

// record wraps a stored value with its write time and optional expiry.
type record struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt time.Time       `json:"writtenAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

func encodeRecord(value any, ttl time.Duration, now time.Time) (record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return record{}, fmt.Errorf("failed to marshal value: %w", err)
	}
	rec := record{Value: raw, WrittenAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		rec.ExpiresAt = &expires
	}
	return rec, nil
}

// InMemoryStore is a process-local Store. It backs tests and serves as
// the fallback when durable storage is unavailable.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]record), now: time.Now}
}

// Set stores value under key with an optional TTL (0 means no expiry).
func (s *InMemoryStore) Set(key string, value any, ttl time.Duration) error {
	rec, err := encodeRecord(value, ttl, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
	return nil
}

// Get retrieves key into dest, deleting and missing on expiry.
func (s *InMemoryStore) Get(key string, dest any) (bool, error) {
	s.mu.Lock()
	rec, ok := s.records[key]
	if ok && rec.expired(s.now()) {
		delete(s.records, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(rec.Value, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value for %s: %w", key, err)
	}
	return true, nil
}

// Remove deletes key if present.
func (s *InMemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// Clear removes all records.
func (s *InMemoryStore) Clear() error {
	s.mu.Lock()
	s.records = make(map[string]record)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// FallbackStore wraps a durable Store and degrades to an in-process map
// when the backend starts failing (quota, disabled, connection lost).
// Writes made before the degradation are not recovered.
type FallbackStore struct {
	mu       sync.Mutex
	primary  Store
	memory   *InMemoryStore
	degraded bool
}

// NewFallbackStore wraps primary with in-memory degradation.
func NewFallbackStore(primary Store) *FallbackStore {
	return &FallbackStore{primary: primary, memory: NewInMemoryStore()}
}

func (s *FallbackStore) backend() Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return s.memory
	}
	return s.primary
}

func (s *FallbackStore) degrade(op string, err error) {
	s.mu.Lock()
	already := s.degraded
	s.degraded = true
	s.mu.Unlock()
	if !already {
		slog.Error("FallbackStore degrading to in-memory storage", "op", op, "error", err)
	}
}

// Set writes through the active backend, degrading on failure.
func (s *FallbackStore) Set(key string, value any, ttl time.Duration) error {
	if err := s.backend().Set(key, value, ttl); err != nil {
		s.degrade("set", err)
		return s.memory.Set(key, value, ttl)
	}
	return nil
}

// Get reads from the active backend, degrading on failure.
func (s *FallbackStore) Get(key string, dest any) (bool, error) {
	found, err := s.backend().Get(key, dest)
	if err != nil {
		s.degrade("get", err)
		return s.memory.Get(key, dest)
	}
	return found, nil
}

// Remove deletes from the active backend, degrading on failure.
func (s *FallbackStore) Remove(key string) error {
	if err := s.backend().Remove(key); err != nil {
		s.degrade("remove", err)
		return s.memory.Remove(key)
	}
	return nil
}

// Clear clears the active backend, degrading on failure.
func (s *FallbackStore) Clear() error {
	if err := s.backend().Clear(); err != nil {
		s.degrade("clear", err)
		return s.memory.Clear()
	}
	return nil
}

// Close closes the wrapped primary store.
func (s *FallbackStore) Close() error { return s.primary.Close() }
