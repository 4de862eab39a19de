// Package events publishes session and transaction lifecycle events.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeSessionOpened        = "session.opened"
	TypeSessionClosed        = "session.closed"
	TypeTransactionPrepared  = "transaction.prepared"
	TypeTransactionConfirmed = "transaction.confirmed"
	TypeTransactionFailed    = "transaction.failed"
)

// Event is a lifecycle notification. Timestamp is Unix milliseconds.
type Event struct {
	Type      string         `json:"type"`
	AccountID string         `json:"accountId"`
	ThreadID  string         `json:"threadId,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// New stamps an event with the current time.
func New(typ, accountID, threadID, channelID string, data map[string]any) Event {
	return Event{
		Type:      typ,
		AccountID: accountID,
		ThreadID:  threadID,
		ChannelID: channelID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher that logs at debug level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Debug("event", "type", ev.Type, "account_id", ev.AccountID, "thread_id", ev.ThreadID, "channel_id", ev.ChannelID)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }
