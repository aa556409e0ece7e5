// Package util provides environment parsing helpers for the server
// entrypoint, which reads all widget and transport toggles from the
// process environment.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean toggle from the environment. It accepts
// true/1/yes/on and false/0/no/off, case-insensitively. Unset keys fall
// back to defaultValue; unrecognized values do too, with a warning, so
// a typo in deployment config never flips a toggle silently.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}
