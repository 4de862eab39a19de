// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/rofergon/Hedron/internal/domain"
)

// Repository defines the interface for persisting conversation threads and
// signer confirmations.
type Repository interface {
	// GetThread retrieves a conversation thread. Returns nil, nil when absent.
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// UpsertThread creates or replaces a thread's message history.
	UpsertThread(ctx context.Context, thread *domain.Thread) error

	// DeleteThread removes a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// CleanupExpiredThreads removes threads not updated within ttl.
	CleanupExpiredThreads(ctx context.Context, ttl time.Duration) (int64, error)

	// RecordTransaction appends a signer confirmation to the audit log.
	RecordTransaction(ctx context.Context, rec *domain.TransactionRecord) error

	// ListTransactions returns the most recent confirmations for an account,
	// newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
