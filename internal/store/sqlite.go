package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rofergon/Hedron/internal/domain"
	"github.com/rofergon/Hedron/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	threadMu sync.Mutex // Serializes thread writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		transaction_id TEXT,
		status TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		pending_tool TEXT,
		pending_step TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetThread retrieves a conversation thread.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	query := `
		SELECT thread_id, account_id, messages_json, created_at, updated_at
		FROM threads WHERE thread_id = ?`

	row := s.db.QueryRowContext(ctx, query, threadID)

	var thread domain.Thread
	var createdAt, updatedAt int64
	err := row.Scan(&thread.ThreadID, &thread.AccountID, &thread.MessagesJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread row: %w", err)
	}

	thread.CreatedAt = time.Unix(createdAt, 0)
	thread.UpdatedAt = time.Unix(updatedAt, 0)
	return &thread, nil
}

// UpsertThread creates or replaces a thread's message history.
func (s *SQLiteStore) UpsertThread(ctx context.Context, thread *domain.Thread) error {
	query := `
		INSERT INTO threads (thread_id, account_id, messages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	createdAt := thread.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withRetry(ctx, "upsert thread", func() error {
		s.threadMu.Lock()
		defer s.threadMu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			thread.ThreadID, thread.AccountID, thread.MessagesJSON,
			createdAt.Unix(), time.Now().Unix(),
		)
		return err
	})
}

// DeleteThread removes a thread.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	return s.withRetry(ctx, "delete thread", func() error {
		s.threadMu.Lock()
		defer s.threadMu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
		return err
	})
}

// CleanupExpiredThreads removes threads older than TTL.
func (s *SQLiteStore) CleanupExpiredThreads(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired threads: %w", err)
	}
	return result.RowsAffected()
}

// RecordTransaction appends a signer confirmation to the audit log.
func (s *SQLiteStore) RecordTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (
			account_id, thread_id, transaction_id, status, success, error,
			pending_tool, pending_step, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withRetry(ctx, "record transaction", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.AccountID, rec.ThreadID, nullable(rec.TransactionID), nullable(rec.Status),
			rec.Success, nullable(rec.Error), nullable(rec.PendingTool), nullable(rec.PendingStep),
			createdAt.UnixMilli(),
		)
		return err
	})
}

// ListTransactions returns the most recent confirmations for an account.
func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT account_id, thread_id, transaction_id, status, success, error,
		       pending_tool, pending_step, created_at
		FROM transactions WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transaction rows", "error", closeErr)
		}
	}()

	var records []*domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var txID, status, errMsg, tool, step sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&rec.AccountID, &rec.ThreadID, &txID, &status, &rec.Success, &errMsg,
			&tool, &step, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		rec.TransactionID = txID.String
		rec.Status = status.String
		rec.Error = errMsg.String
		rec.PendingTool = tool.String
		rec.PendingStep = step.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

// withRetry runs op with exponential backoff on SQLITE_BUSY / locked errors.
func (s *SQLiteStore) withRetry(ctx context.Context, what string, op func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := shared.Backoff(baseDelay, i, 0) // 100ms, 200ms, 400ms
		slog.Debug("SQLite busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
