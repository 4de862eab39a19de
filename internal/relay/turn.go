package relay

import (
	"context"
	"fmt"

	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/events"
	"github.com/rofergon/Hedron/internal/extract"
	"github.com/rofergon/Hedron/internal/intent"
	"github.com/rofergon/Hedron/internal/session"
)

// Process runs one user turn: routing hints, agent call, artifact
// extraction, then emission in quote, text, transaction order.
func (r *Relay) Process(ctx context.Context, ch Channel, sess *session.Session, userText string) {
	if err := sess.Acquire(ctx); err != nil {
		return
	}
	defer sess.Release()

	r.record(ch, sess, "inbound", "user_message", userText, nil)
	instruction := intent.Rewrite(userText)
	if instruction != userText {
		r.logger.Debug("Applied intent hint", "channel_id", ch.ID(), "account_id", sess.AccountID())
	}
	r.runTurn(ctx, ch, sess, instruction, userText)
}

// runTurn invokes the agent and emits the result. The caller holds the
// session's turn lock.
func (r *Relay) runTurn(ctx context.Context, ch Channel, sess *session.Session, instruction, originalQuery string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Turn panicked", "channel_id", ch.ID(), "account_id", sess.AccountID(), "panic", rec)
			r.sendSystem(ctx, ch, LevelError, fmt.Sprintf("Error processing message: %v", rec))
		}
	}()

	a := sess.Agent()
	if a == nil {
		r.sendSystem(ctx, ch, LevelError, "Session is no longer active. Please reconnect.")
		return
	}

	resp, err := a.Invoke(ctx, sess.ThreadID(), instruction)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("Agent invocation failed", "channel_id", ch.ID(), "account_id", sess.AccountID(),
			"thread_id", sess.ThreadID(), "error", err)
		r.sendSystem(ctx, ch, LevelError, fmt.Sprintf("Error processing message: %v", err))
		return
	}
	if resp == nil {
		resp = &agent.Response{}
	}
	r.emit(ctx, ch, sess, resp, originalQuery)
}

func (r *Relay) emit(ctx context.Context, ch Channel, sess *session.Session, resp *agent.Response, originalQuery string) {
	txBytes, hasTx := extract.TransactionBytes(resp)
	pending, hasPending := extract.PendingStep(resp)
	quote, hasQuote := extract.Quote(resp)
	op, hasOp := extract.Operation(resp)

	if hasQuote {
		r.send(ctx, ch, newSwapQuote(quote, originalQuery))
	}

	if !hasTx {
		r.send(ctx, ch, newAgentResponse(resp.Output, false))
		r.record(ch, sess, "outbound", "agent_response", resp.Output,
			map[string]any{"tools_used": resp.ToolsUsed()})
		return
	}

	if hasPending {
		sess.SetPending(pending)
	}
	if hasOp {
		sess.SetOperation(op)
	}

	r.send(ctx, ch, newAgentResponse(resp.Output, true))
	r.send(ctx, ch, newTransactionToSign(txBytes, originalQuery))

	meta := map[string]any{"tools_used": resp.ToolsUsed(), "bytes": len(txBytes)}
	data := map[string]any{"bytes": len(txBytes)}
	if hasPending {
		meta["pending_tool"], meta["pending_step"] = pending.Tool, pending.Step
		data["pendingTool"], data["pendingStep"] = pending.Tool, pending.Step
	}
	r.record(ch, sess, "outbound", "transaction_to_sign", resp.Output, meta)
	r.publish(events.New(events.TypeTransactionPrepared, sess.AccountID(), sess.ThreadID(), ch.ID(), data))
}
