package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/domain"
	"github.com/rofergon/Hedron/internal/intent"
	"github.com/rofergon/Hedron/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id   string
	mu   sync.Mutex
	sent []Outbound
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(_ context.Context, msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Kind())
	}
	return out
}

func (c *fakeChannel) ofKind(kind string) []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Outbound
	for _, m := range c.sent {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// scriptedAgent replays responses in order and records instructions.
type scriptedAgent struct {
	mu           sync.Mutex
	responses    []*agent.Response
	err          error
	instructions []string
	threads      []string
}

func (a *scriptedAgent) Invoke(_ context.Context, threadID, instruction string) (*agent.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instructions = append(a.instructions, instruction)
	a.threads = append(a.threads, threadID)
	if a.err != nil {
		return nil, a.err
	}
	if len(a.responses) == 0 {
		return &agent.Response{Output: "ok"}, nil
	}
	r := a.responses[0]
	a.responses = a.responses[1:]
	return r, nil
}

func (a *scriptedAgent) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.instructions...)
}

type fakeFactory struct {
	mu     sync.Mutex
	agents map[string]*scriptedAgent
	err    error
}

func (f *fakeFactory) Build(_ context.Context, accountID string) (agent.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agents == nil {
		f.agents = map[string]*scriptedAgent{}
	}
	a, ok := f.agents[accountID]
	if !ok {
		a = &scriptedAgent{}
		f.agents[accountID] = a
	}
	return a, nil
}

func (f *fakeFactory) agent(accountID string) *scriptedAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agents == nil {
		f.agents = map[string]*scriptedAgent{}
	}
	a, ok := f.agents[accountID]
	if !ok {
		a = &scriptedAgent{}
		f.agents[accountID] = a
	}
	return a
}

func newTestRelay(t *testing.T) (*Relay, *fakeFactory, *fakeChannel) {
	t.Helper()
	f := &fakeFactory{}
	return New(session.NewRegistry(f)), f, &fakeChannel{id: "chan-1"}
}

func envelope(t *testing.T, v map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func auth(t *testing.T, r *Relay, ch *fakeChannel, account string) {
	t.Helper()
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeConnectionAuth, "userAccountId": account}))
	require.NotNil(t, r.Registry().Lookup(ch.ID()))
	ch.reset()
}

func txResponse(obs string) *agent.Response {
	return &agent.Response{
		Output: "Please sign the transaction.",
		Steps:  []agent.Step{{Tool: "x", Observation: obs}},
	}
}

func TestAuthThenPlainMessage(t *testing.T) {
	r, _, ch := newTestRelay(t)

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeConnectionAuth, "userAccountId": "0.0.100"}))
	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelInfo, ch.sent[0].(SystemMessage).Level)
	ch.reset()

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "balance?"}))

	responses := ch.ofKind(TypeAgentResponse)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].(AgentResponse).HasTransaction)
	assert.Empty(t, ch.ofKind(TypeTransactionToSign))
}

func TestQuoteEmittedBeforeTextAndTransaction(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	f.agent("0.0.100").responses = []*agent.Response{{
		Output: "Here is your swap.",
		Steps: []agent.Step{
			{Tool: "saucerswap_get_quote", Observation: `{"type":"swap_quote","amountOut":"25"}`},
			{Tool: "saucerswap_swap", Observation: `{"transactionBytes":"0x0102"}`},
		},
	}}

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "swap 1 HBAR to SAUCE"}))

	require.Equal(t, []string{TypeSwapQuote, TypeAgentResponse, TypeTransactionToSign}, ch.kinds())
	assert.True(t, ch.sent[1].(AgentResponse).HasTransaction)
	tx := ch.sent[2].(TransactionToSign)
	assert.Equal(t, Bytes{1, 2}, tx.TransactionBytes)
	assert.Equal(t, "swap 1 HBAR to SAUCE", tx.OriginalQuery)
	assert.Equal(t, "swap 1 HBAR to SAUCE", ch.sent[0].(SwapQuote).OriginalMessage)
}

func TestConfirmationRunsPendingStepOnce(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	a := f.agent("0.0.100")
	a.responses = []*agent.Response{
		txResponse(`{"transactionBytes":"0x01","nextStep":{"tool":"x","step":"approval","originalParams":{"amount":"10","token":"USDC"}}}`),
		{Output: "Approval done, nothing else to sign."},
	}

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "deposit 10 USDC"}))
	sess := r.Registry().Lookup(ch.ID())
	require.NotNil(t, sess.Pending())

	ch.reset()
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true, "transactionId": "0.0.100@1", "status": "SUCCESS"}))

	assert.Nil(t, sess.Pending())
	calls := a.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], "approval")
	assert.Contains(t, calls[1], "amount: 10")
	assert.Contains(t, calls[1], "token: USDC")
	assert.Equal(t, []string{TypeSystemMessage, TypeAgentResponse}, ch.kinds())
	assert.Contains(t, ch.sent[0].(SystemMessage).Message, "0.0.100@1")

	// A second confirmation finds nothing pending.
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))
	assert.Len(t, a.calls(), 2)
}

func TestFollowUpCanQueueNextStep(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	f.agent("0.0.100").responses = []*agent.Response{
		txResponse(`{"transactionBytes":"0x01","nextStep":{"tool":"bonzo_deposit","step":"approval"}}`),
		txResponse(`{"transactionBytes":"0x02","nextStep":{"tool":"bonzo_deposit","step":"deposit"}}`),
	}

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "deposit"}))
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))

	sess := r.Registry().Lookup(ch.ID())
	p := sess.Pending()
	require.NotNil(t, p)
	assert.Equal(t, "deposit", p.Step)
	txs := ch.ofKind(TypeTransactionToSign)
	require.Len(t, txs, 2)
	assert.Equal(t, Bytes{2}, txs[1].(TransactionToSign).TransactionBytes)
}

func TestConfirmationWithOperationEmitsSummaryOnce(t *testing.T) {
	r, _, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	sess := r.Registry().Lookup(ch.ID())
	sess.SetOperation(&domain.OperationContext{Protocol: "bonzo", Operation: "deposit", AmountLabel: "10 HBAR"})

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))

	require.Equal(t, []string{TypeSystemMessage, TypeAgentResponse}, ch.kinds())
	assert.Contains(t, ch.sent[1].(AgentResponse).Message, "10 HBAR")
	assert.Nil(t, sess.Operation())
}

func TestConfirmationWithUnknownOperationClearsIt(t *testing.T) {
	r, _, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	sess := r.Registry().Lookup(ch.ID())
	sess.SetOperation(&domain.OperationContext{Protocol: "other", Operation: "thing"})

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))

	assert.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Nil(t, sess.Operation())
}

func TestConfirmationWithNothingPendingOnlyNotifies(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))

	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelInfo, ch.sent[0].(SystemMessage).Level)
	assert.Empty(t, f.agent("0.0.100").calls())
}

func TestFailedConfirmationDiscardsPending(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	sess := r.Registry().Lookup(ch.ID())
	sess.SetPending(&domain.PendingStep{Tool: "x", Step: "approval"})
	sess.SetOperation(&domain.OperationContext{Protocol: "bonzo", Operation: "deposit"})

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": false, "error": "user rejected"}))

	assert.Nil(t, sess.Pending())
	assert.NotNil(t, sess.Operation())
	assert.Empty(t, f.agent("0.0.100").calls())
	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	msg := ch.sent[0].(SystemMessage)
	assert.Equal(t, LevelError, msg.Level)
	assert.Contains(t, msg.Message, "user rejected")
}

func TestLimitOrderTextIsRewritten(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "buy SAUCE at 0.04 USDC"}))

	calls := f.agent("0.0.100").calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "use the "+intent.ToolLimitOrder+" tool")
	assert.NotContains(t, calls[0], "use the "+intent.ToolSwap+" tool")
	assert.Contains(t, calls[0], "buy SAUCE at 0.04 USDC")
}

func TestSwapTextIsForwardedUnchanged(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")

	const text = "swap 10 HBAR for SAUCE at the best price"
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": text}))

	calls := f.agent("0.0.100").calls()
	require.Len(t, calls, 1)
	assert.Equal(t, text, calls[0])
}

func TestAgentErrorKeepsSession(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	sess := r.Registry().Lookup(ch.ID())
	sess.SetPending(&domain.PendingStep{Tool: "x", Step: "approval"})
	f.agent("0.0.100").err = errors.New("model timeout")

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "hello"}))

	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelError, ch.sent[0].(SystemMessage).Level)
	assert.Contains(t, ch.sent[0].(SystemMessage).Message, "model timeout")
	assert.Same(t, sess, r.Registry().Lookup(ch.ID()))
	assert.NotNil(t, sess.Pending())
}

func TestMalformedAndUnknownEnvelopes(t *testing.T) {
	r, _, ch := newTestRelay(t)

	r.HandleMessage(context.Background(), ch, []byte("{not json"))
	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelError, ch.sent[0].(SystemMessage).Level)

	ch.reset()
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": "SOMETHING_NEW"}))
	assert.Empty(t, ch.kinds())
}

func TestUserMessageWithoutSession(t *testing.T) {
	r, _, ch := newTestRelay(t)

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "hi"}))
	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelError, ch.sent[0].(SystemMessage).Level)

	ch.reset()
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeTransactionResult, "success": true}))
	assert.Equal(t, []string{TypeSystemMessage}, ch.kinds())
}

func TestUserMessageAuthenticatesImplicitly(t *testing.T) {
	r, f, ch := newTestRelay(t)

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "hi", "userAccountId": "0.0.7"}))

	sess := r.Registry().Lookup(ch.ID())
	require.NotNil(t, sess)
	assert.Equal(t, "0.0.7", sess.AccountID())
	assert.Len(t, f.agent("0.0.7").calls(), 1)
	assert.Len(t, ch.ofKind(TypeAgentResponse), 1)
}

func TestUserMessageSwitchesAccount(t *testing.T) {
	r, f, ch := newTestRelay(t)
	auth(t, r, ch, "0.0.100")
	old := r.Registry().Lookup(ch.ID())
	old.SetPending(&domain.PendingStep{Tool: "x", Step: "approval"})

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeUserMessage, "message": "balance?", "userAccountId": "0.0.200"}))

	sess := r.Registry().Lookup(ch.ID())
	require.NotNil(t, sess)
	assert.Equal(t, "0.0.200", sess.AccountID())
	assert.Equal(t, 1, r.Registry().Count())
	assert.Nil(t, old.Pending())
	assert.Empty(t, f.agent("0.0.100").calls())
	require.Len(t, f.agent("0.0.200").calls(), 1)
	assert.Equal(t, sess.ThreadID(), f.agent("0.0.200").threads[0])
}

func TestAuthFailureReported(t *testing.T) {
	f := &fakeFactory{err: errors.New("tool-set unavailable")}
	r := New(session.NewRegistry(f))
	ch := &fakeChannel{id: "c"}

	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeConnectionAuth, "userAccountId": "0.0.100"}))
	require.Equal(t, []string{TypeSystemMessage}, ch.kinds())
	assert.Equal(t, LevelError, ch.sent[0].(SystemMessage).Level)
	assert.Nil(t, r.Registry().Lookup("c"))

	ch.reset()
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypeConnectionAuth, "userAccountId": "bob"}))
	assert.Contains(t, ch.sent[0].(SystemMessage).Message, "Invalid account id")
}

func TestPingPong(t *testing.T) {
	r, _, ch := newTestRelay(t)
	r.HandleMessage(context.Background(), ch, envelope(t, map[string]any{"type": TypePing}))
	assert.Equal(t, []string{TypePong}, ch.kinds())
}

func TestBytesJSON(t *testing.T) {
	raw, err := json.Marshal(newTransactionToSign([]byte{0, 7, 255}, "q"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []any{0.0, 7.0, 255.0}, got["transactionBytes"])

	var b Bytes
	require.NoError(t, json.Unmarshal([]byte(`[1,2]`), &b))
	assert.Equal(t, Bytes{1, 2}, b)
	require.NoError(t, json.Unmarshal([]byte(`"AQI="`), &b))
	assert.Equal(t, Bytes{1, 2}, b)
	assert.Error(t, json.Unmarshal([]byte(`[256]`), &b))
}
