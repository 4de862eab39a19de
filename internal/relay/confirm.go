package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rofergon/Hedron/internal/domain"
	"github.com/rofergon/Hedron/internal/events"
	"github.com/rofergon/Hedron/internal/followup"
	"github.com/rofergon/Hedron/internal/session"
)

// TransactionResult is the signer's report for the last transaction.
type TransactionResult struct {
	Success       bool
	TransactionID string
	Status        string
	Error         string
}

// OnResult handles a signer confirmation. Success runs the pending step's
// follow-up, or emits a completion summary when nothing is pending.
// Failure discards the pending step.
func (r *Relay) OnResult(ctx context.Context, ch Channel, sess *session.Session, res TransactionResult) {
	if err := sess.Acquire(ctx); err != nil {
		return
	}
	defer sess.Release()

	r.audit(ctx, ch, sess, res)

	if !res.Success {
		sess.DiscardPending()
		reason := res.Error
		if reason == "" {
			reason = "unknown error"
		}
		r.sendSystem(ctx, ch, LevelError, "Transaction failed: "+reason)
		return
	}

	r.sendSystem(ctx, ch, LevelInfo, confirmationNotice(res))

	if step := sess.TakePending(); step != nil {
		instruction := followup.Instruction(step, sess.AccountID())
		r.logger.Info("Executing follow-up step", "channel_id", ch.ID(), "account_id", sess.AccountID(),
			"tool", step.Tool, "step", step.Step)
		r.record(ch, sess, "inbound", "follow_up_instruction", instruction,
			map[string]any{"tool": step.Tool, "step": step.Step})
		r.runTurn(ctx, ch, sess, instruction, instruction)
		return
	}

	if op := sess.TakeOperation(); op != nil {
		if msg, ok := followup.Summary(op); ok {
			r.send(ctx, ch, newAgentResponse(msg, false))
			r.record(ch, sess, "outbound", "completion_summary", msg, nil)
		}
	}
}

func confirmationNotice(res TransactionResult) string {
	parts := []string{"Transaction executed successfully."}
	if res.TransactionID != "" {
		parts = append(parts, "ID: "+res.TransactionID+".")
	}
	if res.Status != "" {
		parts = append(parts, "Status: "+res.Status+".")
	}
	return strings.Join(parts, " ")
}

// audit records the confirmation and publishes it. The pending step is
// read without clearing it.
func (r *Relay) audit(ctx context.Context, ch Channel, sess *session.Session, res TransactionResult) {
	pending := sess.Pending()
	rec := &domain.TransactionRecord{
		AccountID:     sess.AccountID(),
		ThreadID:      sess.ThreadID(),
		TransactionID: res.TransactionID,
		Status:        res.Status,
		Success:       res.Success,
		Error:         res.Error,
	}
	if pending != nil {
		rec.PendingTool, rec.PendingStep = pending.Tool, pending.Step
	}
	if r.repo != nil {
		if err := r.repo.RecordTransaction(ctx, rec); err != nil {
			r.logger.Warn("Failed to record transaction", "account_id", rec.AccountID, "error", err)
		}
	}

	typ := events.TypeTransactionConfirmed
	if !res.Success {
		typ = events.TypeTransactionFailed
	}
	r.publish(events.New(typ, sess.AccountID(), sess.ThreadID(), ch.ID(), map[string]any{
		"transactionId": res.TransactionID,
		"status":        res.Status,
		"error":         res.Error,
	}))
	r.record(ch, sess, "inbound", "transaction_result", fmt.Sprintf("success=%t id=%s status=%s error=%s",
		res.Success, res.TransactionID, res.Status, res.Error), nil)
}
