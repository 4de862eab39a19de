package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteLimitOrder(t *testing.T) {
	cases := []string{
		"buy SAUCE at 0.04 USDC",
		"Sell 100 HBAR at $0.30",
		"place a limit order for SAUCE",
		"buy HBAR when the price drops to 0.05",
	}
	for _, in := range cases {
		out := Rewrite(in)
		require.True(t, strings.HasSuffix(out, in), in)
		prefix := strings.TrimSuffix(out, in)
		assert.Contains(t, prefix, "use the "+ToolLimitOrder+" tool", in)
		assert.Contains(t, prefix, "do NOT use "+ToolSwap, in)
	}
}

func TestLimitOrderNeverForcesSwap(t *testing.T) {
	r, ok := Match("buy SAUCE at 0.04 USDC")
	require.True(t, ok)
	assert.Equal(t, "limit_order", r.Name)
	assert.NotEqual(t, ToolSwap, r.Use)
	assert.NotContains(t, Rewrite("buy SAUCE at 0.04 USDC"), "use the "+ToolSwap)
}

func TestRewritePriceQuery(t *testing.T) {
	for _, in := range []string{"what is the price of SAUCE?", "HBAR price", "how much is 10 SAUCE worth"} {
		r, ok := Match(in)
		require.True(t, ok, in)
		assert.Equal(t, "price_query", r.Name, in)
		assert.Contains(t, Rewrite(in), ToolQuote)
	}
}

func TestLimitOrderBeatsPriceQuery(t *testing.T) {
	r, ok := Match("sell SAUCE at 0.05 when the price of HBAR rises")
	require.True(t, ok)
	assert.Equal(t, "limit_order", r.Name)
}

func TestTransactionRequestsKeepTheirTool(t *testing.T) {
	cases := []struct {
		text string
		tool string
	}{
		{"swap 10 HBAR for SAUCE", ToolSwap},
		{"swap 10 HBAR for SAUCE at the best price", ToolSwap},
		{"swap 5 HBAR to SAUCE at market price", ToolSwap},
		{"Swap 5 HBAR to SAUCE, the price is fine", ToolSwap},
		{"buy SAUCE with 10 HBAR at 0.5% slippage", ToolSwap},
		{"sell 20 SAUCE for HBAR at 1% slippage", ToolSwap},
		{"deposit 100 USDC into bonzo, the price doesn't matter", "bonzo_deposit"},
		{"deposit 5 HBAR into bonzo", "bonzo_deposit"},
		{"withdraw max USDC from bonzo at today's price", "bonzo_withdraw"},
		{"stake 50 SAUCE", "saucerswap_stake"},
		{"stake my SAUCE whatever the SAUCE price is", "saucerswap_stake"},
	}
	for _, tc := range cases {
		r, ok := Match(tc.text)
		if !ok {
			continue
		}
		assert.NotContains(t, r.Forbid, tc.tool, "%q matched %s", tc.text, r.Name)
		assert.NotEqual(t, "price_query", r.Name, tc.text)
	}
}

func TestPlainTransactionRequestsGetNoHint(t *testing.T) {
	for _, in := range []string{
		"swap 10 HBAR for SAUCE at the best price",
		"swap 5 HBAR to SAUCE at market price",
		"buy SAUCE with 10 HBAR at 0.5% slippage",
		"deposit 100 USDC into bonzo, the price doesn't matter",
		"stake 50 SAUCE",
	} {
		_, ok := Match(in)
		assert.False(t, ok, in)
	}
}

func TestPriceWordAloneIsNotATicker(t *testing.T) {
	for _, in := range []string{"the best price", "market price please", "what a price"} {
		_, ok := Match(in)
		assert.False(t, ok, in)
	}
	r, ok := Match("SAUCE price?")
	require.True(t, ok)
	assert.Equal(t, "price_query", r.Name)
}

func TestLimitOrderNeedsTargetPrice(t *testing.T) {
	r, ok := Match("sell 20 SAUCE at 0.05")
	require.True(t, ok)
	assert.Equal(t, "limit_order", r.Name)

	for _, in := range []string{"buy SAUCE at 2% slippage", "sell HBAR at 10%"} {
		_, ok := Match(in)
		assert.False(t, ok, in)
	}
}

func TestRewriteLeavesOtherTextAlone(t *testing.T) {
	for _, in := range []string{"balance?", "swap 10 HBAR for SAUCE", "deposit 5 HBAR into bonzo"} {
		assert.Equal(t, in, Rewrite(in))
	}
}
