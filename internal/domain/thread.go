package domain

import (
	"time"
)

// Thread stores persisted conversation history for one session-creation event.
type Thread struct {
	ThreadID     string
	AccountID    string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TransactionRecord is one signer confirmation as reported by the client.
type TransactionRecord struct {
	AccountID     string
	ThreadID      string
	TransactionID string
	Status        string
	Success       bool
	Error         string
	PendingTool   string
	PendingStep   string
	CreatedAt     time.Time
}
