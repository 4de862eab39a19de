package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rofergon/Hedron/internal/identity"
	"github.com/rofergon/Hedron/internal/session"
)

// HandleMessage decodes one inbound envelope and dispatches it by type.
// Unknown types are dropped.
func (r *Relay) HandleMessage(ctx context.Context, ch Channel, raw []byte) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("Malformed envelope", "channel_id", ch.ID(), "error", err)
		r.sendSystem(ctx, ch, LevelError, "Invalid message format")
		return
	}

	switch msg.Type {
	case TypeConnectionAuth:
		r.handleAuth(ctx, ch, msg)
	case TypeUserMessage:
		r.handleUserMessage(ctx, ch, msg)
	case TypeTransactionResult:
		r.handleTransactionResult(ctx, ch, msg)
	case TypePing:
		r.send(ctx, ch, newPong())
	default:
		r.logger.Debug("Dropping unknown envelope type", "channel_id", ch.ID(), "type", msg.Type)
	}
}

func (r *Relay) handleAuth(ctx context.Context, ch Channel, msg Inbound) {
	if msg.UserAccountID == "" {
		r.sendSystem(ctx, ch, LevelError, "userAccountId is required")
		return
	}
	sess, err := r.authenticate(ctx, ch, msg.UserAccountID)
	if err != nil {
		return
	}
	r.sendSystem(ctx, ch, LevelInfo, fmt.Sprintf("Authenticated as %s", sess.AccountID()))
}

func (r *Relay) handleUserMessage(ctx context.Context, ch Channel, msg Inbound) {
	sess := r.registry.Lookup(ch.ID())
	if msg.UserAccountID != "" && (sess == nil || sess.AccountID() != msg.UserAccountID) {
		previous := sess
		next, err := r.authenticate(ctx, ch, msg.UserAccountID)
		if err != nil {
			return
		}
		if previous != nil && previous != next {
			r.sendSystem(ctx, ch, LevelInfo, fmt.Sprintf("Switched to account %s", next.AccountID()))
		}
		sess = next
	}
	if sess == nil {
		r.sendSystem(ctx, ch, LevelError, "Not authenticated. Send CONNECTION_AUTH first.")
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		r.sendSystem(ctx, ch, LevelError, "Message cannot be empty")
		return
	}
	r.Process(ctx, ch, sess, msg.Message)
}

func (r *Relay) handleTransactionResult(ctx context.Context, ch Channel, msg Inbound) {
	sess := r.registry.Lookup(ch.ID())
	if sess == nil {
		r.sendSystem(ctx, ch, LevelError, "Not authenticated. Send CONNECTION_AUTH first.")
		return
	}
	r.OnResult(ctx, ch, sess, TransactionResult{
		Success:       msg.Success,
		TransactionID: msg.TransactionID,
		Status:        msg.Status,
		Error:         msg.Error,
	})
}

// authenticate binds the channel and reports failures to the client.
func (r *Relay) authenticate(ctx context.Context, ch Channel, accountID string) (*session.Session, error) {
	sess, err := r.registry.Authenticate(ctx, ch.ID(), accountID)
	if err != nil {
		r.logger.Warn("Authentication failed", "channel_id", ch.ID(), "account_id", accountID, "error", err)
		if errors.Is(err, identity.ErrInvalidAccountID) {
			r.sendSystem(ctx, ch, LevelError, fmt.Sprintf("Invalid account id %q", accountID))
		} else {
			r.sendSystem(ctx, ch, LevelError, fmt.Sprintf("Authentication failed: %v", err))
		}
		return nil, err
	}
	return sess, nil
}
