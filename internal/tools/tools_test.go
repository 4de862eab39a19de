package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/extract"
	"github.com/rofergon/Hedron/internal/followup"
	"github.com/rofergon/Hedron/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0.0.4242"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeChain struct {
	nonce uint64
	err   error
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.err
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(540_000_000_000), f.err
}

type fakeMirror struct {
	associated map[string]bool
	balance    *Balance
}

func (f *fakeMirror) Balance(context.Context, string) (*Balance, error) {
	if f.balance == nil {
		return nil, errors.New("not found")
	}
	return f.balance, nil
}

func (f *fakeMirror) IsAssociated(_ context.Context, _, tokenID string) (bool, error) {
	return f.associated[tokenID], nil
}

type fakePrices map[string]TokenPrice

func (f fakePrices) Prices(context.Context) (map[string]TokenPrice, error) { return f, nil }

type fakeMarket string

func (f fakeMarket) Market(context.Context) (json.RawMessage, error) { return json.RawMessage(f), nil }

func newDeps(t *testing.T, mirror *fakeMirror) Deps {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	if mirror == nil {
		mirror = &fakeMirror{}
	}
	return Deps{
		Registry: reg,
		Builder:  NewTxBuilder(&fakeChain{nonce: 7}, reg.ChainID),
		Mirror:   mirror,
		Prices: fakePrices{
			"0.0.15058":   {ID: "0.0.15058", Symbol: "WHBAR", Decimals: 8, PriceUSD: 0.05},
			"0.0.1183558": {ID: "0.0.1183558", Symbol: "SAUCE", Decimals: 6, PriceUSD: 0.02},
			"0.0.5449":    {ID: "0.0.5449", Symbol: "USDC", Decimals: 6, PriceUSD: 1},
		},
		Market: fakeMarket(`{"reserves":[{"symbol":"USDC","supply_apy":4.2}]}`),
		Now:    func() time.Time { return fixedNow },
	}
}

func toolByName(t *testing.T, deps Deps, name string) agent.FunctionTool {
	t.Helper()
	set, err := Build(testAccount, deps)
	require.NoError(t, err)
	for _, tool := range set {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return agent.FunctionTool{}
}

func decodeTx(t *testing.T, out map[string]any) *types.Transaction {
	t.Helper()
	raw, err := hexutil.Decode(out["transactionBytes"].(string))
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx
}

func from() common.Address {
	id, _ := identity.ParseAccountID(testAccount)
	return id.EVMAddress()
}

func TestBuildValidates(t *testing.T) {
	_, err := Build(testAccount, Deps{})
	assert.Error(t, err)

	_, err = Build("alice", newDeps(t, nil))
	assert.ErrorIs(t, err, identity.ErrInvalidAccountID)
}

func TestBuildIsDeterministic(t *testing.T) {
	deps := newDeps(t, nil)
	first, err := Build(testAccount, deps)
	require.NoError(t, err)
	second, err := Build(testAccount, deps)
	require.NoError(t, err)

	require.Len(t, first, 8)
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Parameters, second[i].Parameters)
		assert.Equal(t, "object", first[i].Parameters["type"])
	}
}

func TestSwapStartsWithAssociation(t *testing.T) {
	reg, _ := LoadRegistry("")
	sauce, _ := reg.Token("SAUCE")
	tool := toolByName(t, newDeps(t, &fakeMirror{}), NameSwap)

	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "HBAR", "tokenOut": "SAUCE", "amount": "10",
	})
	require.NoError(t, err)

	assert.Equal(t, StepAssociation, out["step"])
	tx := decodeTx(t, out)
	assert.Equal(t, sauce.Address(), *tx.To())
	assert.Equal(t, htsFacade.Methods["associate"].ID, tx.Data()[:4])
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(gasAssociate), tx.Gas())

	next := out["nextStep"].(map[string]any)
	assert.Equal(t, NameSwap, next["tool"])
	assert.Equal(t, StepSwap, next["step"])
	assert.Equal(t, "10", next["originalParams"].(map[string]any)["amount"])
}

func TestSwapTokenInNeedsApproval(t *testing.T) {
	deps := newDeps(t, &fakeMirror{associated: map[string]bool{"0.0.5449": true}})
	tool := toolByName(t, deps, NameSwap)

	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "SAUCE", "tokenOut": "USDC", "amount": 50.5,
	})
	require.NoError(t, err)

	assert.Equal(t, StepApproval, out["step"])
	tx := decodeTx(t, out)
	assert.Equal(t, erc20.Methods["approve"].ID, tx.Data()[:4])
	args, err := erc20.Methods["approve"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, deps.Registry.Contract("saucerswapRouter"), args[0])
	assert.Equal(t, big.NewInt(50_500_000), args[1])
	assert.Equal(t, StepSwap, out["nextStep"].(map[string]any)["step"])
}

func TestSwapFinalStepEncodesMinimumOut(t *testing.T) {
	deps := newDeps(t, nil)
	tool := toolByName(t, deps, NameSwap)

	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "HBAR", "tokenOut": "SAUCE", "amount": "10", "step": "swap",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "nextStep")

	tx := decodeTx(t, out)
	assert.Equal(t, deps.Registry.Contract("saucerswapRouter"), *tx.To())
	// 10 HBAR in tinybars, scaled to weibars.
	assert.Equal(t, new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(10_000_000_000)), tx.Value())

	method := router.Methods["swapExactETHForTokens"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	// 10 HBAR at 0.05 USD buys 25 SAUCE at 0.02 USD, less 0.5%.
	assert.Equal(t, big.NewInt(24_875_000), args[0])
	assert.Equal(t, from(), args[2])
	assert.Equal(t, big.NewInt(fixedNow.Add(swapDeadline).Unix()), args[3])

	op := out["operation"].(map[string]any)
	assert.Equal(t, "saucerswap", op["protocol"])
	assert.Equal(t, "swap", op["operation"])
}

func TestSwapRejectsSameToken(t *testing.T) {
	tool := toolByName(t, newDeps(t, nil), NameSwap)
	_, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "HBAR", "tokenOut": "WHBAR", "amount": "1",
	})
	assert.Error(t, err)
}

func TestQuoteIsReadOnly(t *testing.T) {
	tool := toolByName(t, newDeps(t, nil), NameQuote)

	out, err := tool.Call(context.Background(), map[string]any{"tokenIn": "HBAR", "tokenOut": "SAUCE"})
	require.NoError(t, err)
	assert.Equal(t, "swap_quote", out["type"])
	assert.Equal(t, "1", out["amountIn"])
	assert.Equal(t, "2.5", out["amountOut"])
	assert.NotContains(t, out, "transactionBytes")
}

func TestStakeTwoSteps(t *testing.T) {
	deps := newDeps(t, nil)
	tool := toolByName(t, deps, NameStake)

	first, err := tool.Call(context.Background(), map[string]any{"amount": "100"})
	require.NoError(t, err)
	assert.Equal(t, StepApproval, first["step"])
	assert.Equal(t, StepStake, first["nextStep"].(map[string]any)["step"])

	second, err := tool.Call(context.Background(), map[string]any{"amount": "100", "step": "stake"})
	require.NoError(t, err)
	assert.NotContains(t, second, "nextStep")
	tx := decodeTx(t, second)
	assert.Equal(t, deps.Registry.Contract("saucerswapInfinityPool"), *tx.To())
	assert.Equal(t, infinity.Methods["enter"].ID, tx.Data()[:4])
}

func TestDepositAssociatesAToken(t *testing.T) {
	tool := toolByName(t, newDeps(t, &fakeMirror{}), NameDeposit)

	out, err := tool.Call(context.Background(), map[string]any{"token": "USDC", "amount": "25"})
	require.NoError(t, err)
	assert.Equal(t, StepAssociation, out["step"])

	aToken, _ := identity.ParseAccountID("0.0.4999377")
	assert.Equal(t, aToken.EVMAddress(), *decodeTx(t, out).To())
	assert.Equal(t, StepApproval, out["nextStep"].(map[string]any)["step"])
}

func TestDepositHBARUsesGateway(t *testing.T) {
	deps := newDeps(t, &fakeMirror{associated: map[string]bool{"0.0.4999367": true}})
	tool := toolByName(t, deps, NameDeposit)

	out, err := tool.Call(context.Background(), map[string]any{"token": "hbar", "amount": "2"})
	require.NoError(t, err)
	assert.Equal(t, StepDeposit, out["step"])

	tx := decodeTx(t, out)
	assert.Equal(t, deps.Registry.Contract("bonzoWethGateway"), *tx.To())
	assert.Equal(t, wethGateway.Methods["depositETH"].ID, tx.Data()[:4])
	assert.Equal(t, tinybarsToWeibars(big.NewInt(200_000_000)), tx.Value())
}

func TestDepositUnlistedToken(t *testing.T) {
	tool := toolByName(t, newDeps(t, nil), NameDeposit)
	_, err := tool.Call(context.Background(), map[string]any{"token": "HBARX", "amount": "1"})
	assert.ErrorContains(t, err, "not listed")
}

func TestWithdrawMax(t *testing.T) {
	deps := newDeps(t, nil)
	tool := toolByName(t, deps, NameWithdraw)

	out, err := tool.Call(context.Background(), map[string]any{"token": "USDC", "amount": "max"})
	require.NoError(t, err)
	assert.Equal(t, StepWithdraw, out["step"])

	tx := decodeTx(t, out)
	args, err := lendingPool.Methods["withdraw"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, 0, maxUint256.Cmp(args[1].(*big.Int)))
	assert.Equal(t, from(), args[2])
}

func TestLimitOrderFromHBAR(t *testing.T) {
	deps := newDeps(t, nil)
	tool := toolByName(t, deps, NameLimitOrder)

	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "HBAR", "tokenOut": "SAUCE", "amount": "100",
		"triggerPrice": "2.5", "slippage": "0",
	})
	require.NoError(t, err)
	assert.Equal(t, StepCreateOrder, out["step"])

	tx := decodeTx(t, out)
	assert.Equal(t, deps.Registry.Contract("autoswapLimit"), *tx.To())
	assert.Equal(t, tinybarsToWeibars(big.NewInt(10_000_000_000)), tx.Value())

	args, err := limitOrder.Methods["createSwapOrder"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	// 100 HBAR at 2.5 HBAR per SAUCE.
	assert.Equal(t, big.NewInt(40_000_000), args[3])
	assert.Equal(t, big.NewInt(250_000_000), args[4])
	assert.Equal(t, big.NewInt(fixedNow.Add(24*time.Hour).Unix()), args[5])
}

func TestLimitOrderTokenNeedsApproval(t *testing.T) {
	tool := toolByName(t, newDeps(t, nil), NameLimitOrder)

	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "USDC", "tokenOut": "SAUCE", "amount": "10", "triggerPrice": "0.02",
	})
	require.NoError(t, err)
	assert.Equal(t, StepApproval, out["step"])
	assert.Equal(t, StepCreateOrder, out["nextStep"].(map[string]any)["step"])
}

func TestBalanceFormatsKnownTokens(t *testing.T) {
	mirror := &fakeMirror{balance: &Balance{
		Account: testAccount,
		Balance: 1_250_000_000,
		Tokens: []TokenBalance{
			{TokenID: "0.0.1183558", Balance: 3_500_000},
			{TokenID: "0.0.999", Balance: 12},
		},
	}}
	tool := toolByName(t, newDeps(t, mirror), NameBalance)

	out, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "12.5", out["hbar"])
	tokens := out["tokens"].([]map[string]any)
	assert.Equal(t, "SAUCE", tokens[0]["symbol"])
	assert.Equal(t, "3.5", tokens[0]["balance"])
	assert.Equal(t, "12", tokens[1]["balance"])
}

func TestMarketInfo(t *testing.T) {
	tool := toolByName(t, newDeps(t, nil), NameMarket)
	out, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, out["market"], "reserves")
}

func TestBuilderPropagatesChainErrors(t *testing.T) {
	deps := newDeps(t, nil)
	deps.Builder = NewTxBuilder(&fakeChain{err: errors.New("rpc down")}, deps.Registry.ChainID)
	tool := toolByName(t, deps, NameWithdraw)

	_, err := tool.Call(context.Background(), map[string]any{"token": "USDC", "amount": "1"})
	assert.ErrorContains(t, err, "rpc down")
}

// A tool result, as the agent reports it, round-trips through extraction
// into the bytes and continuation the relay acts on.
func TestToolOutputFeedsExtraction(t *testing.T) {
	tool := toolByName(t, newDeps(t, &fakeMirror{}), NameSwap)
	out, err := tool.Call(context.Background(), map[string]any{
		"tokenIn": "HBAR", "tokenOut": "SAUCE", "amount": "10",
	})
	require.NoError(t, err)

	obs, err := json.Marshal(out)
	require.NoError(t, err)
	resp := &agent.Response{
		Output: "Please sign the association.",
		Steps:  []agent.Step{{Tool: NameSwap, Observation: string(obs)}},
	}

	raw, ok := extract.TransactionBytes(resp)
	require.True(t, ok)
	want, _ := hexutil.Decode(out["transactionBytes"].(string))
	assert.Equal(t, want, raw)

	step, ok := extract.PendingStep(resp)
	require.True(t, ok)
	assert.Equal(t, NameSwap, step.Tool)
	assert.Equal(t, StepSwap, step.Step)
	assert.True(t, followup.Supported(followup.Key{Tool: step.Tool, Step: step.Step}))

	op, ok := extract.Operation(resp)
	require.True(t, ok)
	assert.Equal(t, "saucerswap", op.Protocol)
	assert.Equal(t, []string{"HBAR", "SAUCE"}, op.Tokens)
}
