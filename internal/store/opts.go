package store

import "strings"

// DetectDSNType reports whether a DSN targets Postgres or SQLite.
// Connection URLs and key=value connection strings mean Postgres;
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Opts holds configuration for the persistent store backends.
type Opts struct {
	// DSN is the data source: a file path for SQLite, a connection
	// string for Postgres.
	DSN string
	// Namespace scopes all keys; Clear only touches this namespace.
	Namespace string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithNamespace overrides the default key namespace.
func WithNamespace(ns string) Option {
	return func(o *Opts) { o.Namespace = ns }
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{Namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
