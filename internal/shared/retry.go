// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"strings"
	"time"
)

// IsSQLiteConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Backoff returns base doubled attempt times, capped at ceiling when ceiling > 0.
func Backoff(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base * time.Duration(1<<attempt)
	if ceiling > 0 && (d > ceiling || d <= 0) {
		return ceiling
	}
	return d
}
