package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/identity"
)

// Tool names, as the model sees them.
const (
	NameBalance    = "hedera_get_balance"
	NameQuote      = "saucerswap_get_quote"
	NameSwap       = "saucerswap_swap"
	NameStake      = "saucerswap_stake"
	NameDeposit    = "bonzo_deposit"
	NameWithdraw   = "bonzo_withdraw"
	NameLimitOrder = "autoswap_limit_order"
	NameMarket     = "bonzo_market_info"
)

// Step names carried in tool results and follow-up descriptors.
const (
	StepAssociation = "association"
	StepApproval    = "approval"
	StepSwap        = "swap"
	StepStake       = "stake"
	StepDeposit     = "deposit"
	StepWithdraw    = "withdraw"
	StepCreateOrder = "create_order"
)

// maxUint256 asks the lending pool to withdraw the whole balance.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const (
	defaultSlippage    = 0.5
	swapDeadline       = 20 * time.Minute
	defaultOrderExpiry = 24
	// triggerPrice is fixed point with this many decimals on the limit contract.
	priceDecimals = 8
)

// BalanceSource reads account state from the mirror node.
type BalanceSource interface {
	Balance(ctx context.Context, accountID string) (*Balance, error)
	IsAssociated(ctx context.Context, accountID, tokenID string) (bool, error)
}

// PriceSource returns USD prices keyed by token id.
type PriceSource interface {
	Prices(ctx context.Context) (map[string]TokenPrice, error)
}

// MarketSource returns the lending market overview.
type MarketSource interface {
	Market(ctx context.Context) (json.RawMessage, error)
}

// Deps are the shared clients every account's tool-set draws on.
type Deps struct {
	Registry *Registry
	Builder  *TxBuilder
	Mirror   BalanceSource
	Prices   PriceSource
	Market   MarketSource
	Now      func() time.Time
}

func (d Deps) validate() error {
	switch {
	case d.Registry == nil:
		return errors.New("tools: registry is required")
	case d.Builder == nil:
		return errors.New("tools: transaction builder is required")
	case d.Mirror == nil:
		return errors.New("tools: mirror node client is required")
	case d.Prices == nil:
		return errors.New("tools: price source is required")
	case d.Market == nil:
		return errors.New("tools: market source is required")
	}
	return nil
}

// Provider adapts Build to the agent's per-account tool hook.
func Provider(deps Deps) agent.ToolProvider {
	return func(_ context.Context, accountID string) ([]agent.FunctionTool, error) {
		return Build(accountID, deps)
	}
}

// Build returns the tool-set bound to accountID. The same account always
// yields the same tools.
func Build(accountID string, deps Deps) ([]agent.FunctionTool, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	id, err := identity.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ts := &toolset{account: id.String(), from: id.EVMAddress(), deps: deps}
	return []agent.FunctionTool{
		ts.balanceTool(),
		ts.quoteTool(),
		ts.swapTool(),
		ts.stakeTool(),
		ts.depositTool(),
		ts.withdrawTool(),
		ts.limitOrderTool(),
		ts.marketTool(),
	}, nil
}

type toolset struct {
	account string
	from    common.Address
	deps    Deps
}

// prepared is the result of a transaction-producing step.
type prepared struct {
	tool        string
	step        string
	description string
	call        Call
	next        string
	params      map[string]any
	operation   map[string]any
}

func (ts *toolset) finish(ctx context.Context, p prepared) (map[string]any, error) {
	raw, err := ts.deps.Builder.Build(ctx, ts.from, p.call)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"success":          true,
		"step":             p.step,
		"description":      p.description,
		"transactionBytes": hexutil.Encode(raw),
		"chainId":          ts.deps.Builder.ChainID().Int64(),
		"account":          ts.account,
		"operation":        p.operation,
	}
	if p.next != "" {
		out["nextStep"] = map[string]any{
			"tool":                 p.tool,
			"step":                 p.next,
			"originalParams":       p.params,
			"nextStepInstructions": fmt.Sprintf("After the %s transaction is confirmed, call %s with step=%q.", p.step, p.tool, p.next),
		}
	}
	return out, nil
}

// needsAssociation reports whether the account must associate tokenID first.
func (ts *toolset) needsAssociation(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	ok, err := ts.deps.Mirror.IsAssociated(ctx, ts.account, tokenID)
	if err != nil {
		return false, fmt.Errorf("check token association: %w", err)
	}
	return !ok, nil
}

func (ts *toolset) balanceTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameBalance,
		Description: "Get the HBAR and token balances of the connected account.",
		Parameters:  object(nil),
		Call: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			bal, err := ts.deps.Mirror.Balance(ctx, ts.account)
			if err != nil {
				return nil, err
			}
			tokens := make([]map[string]any, 0, len(bal.Tokens))
			for _, t := range bal.Tokens {
				entry := map[string]any{"tokenId": t.TokenID}
				if known, ok := ts.deps.Registry.TokenByID(t.TokenID); ok {
					entry["symbol"] = known.Symbol
					entry["balance"] = FormatAmount(big.NewInt(t.Balance), known.Decimals)
				} else {
					entry["balance"] = strconv.FormatInt(t.Balance, 10)
				}
				tokens = append(tokens, entry)
			}
			return map[string]any{
				"account": ts.account,
				"hbar":    FormatAmount(big.NewInt(bal.Balance), 8),
				"tokens":  tokens,
			}, nil
		},
	}
}

func (ts *toolset) marketTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameMarket,
		Description: "Get Bonzo Finance lending market data: reserves, supply and borrow rates, liquidity.",
		Parameters:  object(nil),
		Call: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			raw, err := ts.deps.Market.Market(ctx)
			if err != nil {
				return nil, err
			}
			var market any
			if err := json.Unmarshal(raw, &market); err != nil {
				return nil, fmt.Errorf("decode market: %w", err)
			}
			return map[string]any{"market": market}, nil
		},
	}
}

// swapQuote estimates amountOut from USD prices.
type swapQuote struct {
	in, out   Token
	amountIn  *big.Int
	amountOut *big.Int
	priceIn   float64
	priceOut  float64
}

func (ts *toolset) quote(ctx context.Context, in, out Token, amountIn *big.Int) (*swapQuote, error) {
	prices, err := ts.deps.Prices.Prices(ctx)
	if err != nil {
		return nil, err
	}
	pin, ok := prices[in.ID]
	if !ok || pin.PriceUSD <= 0 {
		return nil, fmt.Errorf("no price for %s", in.Symbol)
	}
	pout, ok := prices[out.ID]
	if !ok || pout.PriceUSD <= 0 {
		return nil, fmt.Errorf("no price for %s", out.Symbol)
	}
	// amountOut = amountIn * priceIn / priceOut, rescaled between decimals.
	r := new(big.Rat).SetInt(amountIn)
	r.Mul(r, ratFloat(pin.PriceUSD))
	r.Quo(r, ratFloat(pout.PriceUSD))
	r.Mul(r, new(big.Rat).SetFrac(pow10(out.Decimals), pow10(in.Decimals)))
	return &swapQuote{
		in: in, out: out,
		amountIn:  amountIn,
		amountOut: floorRat(r),
		priceIn:   pin.PriceUSD,
		priceOut:  pout.PriceUSD,
	}, nil
}

func (ts *toolset) quoteTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameQuote,
		Description: "Quote a SaucerSwap swap or report token prices. Read-only, produces no transaction.",
		Parameters: object(map[string]any{
			"tokenIn":  stringProp("Symbol of the token to sell, e.g. HBAR"),
			"tokenOut": stringProp("Symbol of the token to buy, e.g. SAUCE"),
			"amount":   stringProp("Amount of tokenIn in whole units; defaults to 1"),
		}, "tokenIn", "tokenOut"),
		Call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			in, out, err := ts.pair(args)
			if err != nil {
				return nil, err
			}
			amount := str(args, "amount")
			if amount == "" {
				amount = "1"
			}
			amountIn, err := ParseAmount(amount, in.Decimals)
			if err != nil {
				return nil, err
			}
			q, err := ts.quote(ctx, in, out, amountIn)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"type":        "swap_quote",
				"tokenIn":     in.Symbol,
				"tokenOut":    out.Symbol,
				"amountIn":    FormatAmount(q.amountIn, in.Decimals),
				"amountOut":   FormatAmount(q.amountOut, out.Decimals),
				"priceInUsd":  q.priceIn,
				"priceOutUsd": q.priceOut,
				"rate":        q.priceIn / q.priceOut,
			}, nil
		},
	}
}

func (ts *toolset) swapTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameSwap,
		Description: "Prepare a SaucerSwap swap. Returns one unsigned transaction per call; follow nextStep for association and approval flows.",
		Parameters: object(map[string]any{
			"tokenIn":  stringProp("Symbol of the token to sell"),
			"tokenOut": stringProp("Symbol of the token to buy"),
			"amount":   stringProp("Amount of tokenIn in whole units"),
			"slippage": stringProp("Maximum slippage in percent; defaults to 0.5"),
			"step":     stringProp("association, approval or swap; omit on the first call"),
		}, "tokenIn", "tokenOut", "amount"),
		Call: ts.swap,
	}
}

func (ts *toolset) swap(ctx context.Context, args map[string]any) (map[string]any, error) {
	in, out, err := ts.pair(args)
	if err != nil {
		return nil, err
	}
	amount := str(args, "amount")
	amountIn, err := ParseAmount(amount, in.Decimals)
	if err != nil {
		return nil, err
	}
	slippage, err := percent(args, "slippage", defaultSlippage)
	if err != nil {
		return nil, err
	}
	routerAddr := ts.deps.Registry.Contract("saucerswapRouter")

	step := str(args, "step")
	if step == "" {
		step = StepSwap
		if !in.Native {
			step = StepApproval
		}
		if !out.Native {
			assoc, err := ts.needsAssociation(ctx, out.ID)
			if err != nil {
				return nil, err
			}
			if assoc {
				step = StepAssociation
			}
		}
	}

	p := prepared{
		tool: NameSwap,
		step: step,
		params: map[string]any{
			"tokenIn":  in.Symbol,
			"tokenOut": out.Symbol,
			"amount":   amount,
			"slippage": strconv.FormatFloat(slippage, 'f', -1, 64),
		},
		operation: map[string]any{
			"protocol":  "saucerswap",
			"operation": "swap",
			"amount":    amount,
			"tokens":    []string{in.Symbol, out.Symbol},
		},
	}
	switch step {
	case StepAssociation:
		p.call, err = associateCall(out.Address())
		p.description = fmt.Sprintf("Associate %s with your account", out.Symbol)
		p.next = StepSwap
		if !in.Native {
			p.next = StepApproval
		}
	case StepApproval:
		if in.Native {
			return nil, fmt.Errorf("HBAR needs no approval")
		}
		p.call, err = approveCall(in.Address(), routerAddr, amountIn)
		p.description = fmt.Sprintf("Approve SaucerSwap to spend %s %s", amount, in.Symbol)
		p.next = StepSwap
	case StepSwap:
		var q *swapQuote
		q, err = ts.quote(ctx, in, out, amountIn)
		if err != nil {
			return nil, err
		}
		minOut := applySlippage(q.amountOut, slippage)
		p.call, err = ts.swapCall(in, out, amountIn, minOut)
		p.description = fmt.Sprintf("Swap %s %s for at least %s %s", amount, in.Symbol,
			FormatAmount(minOut, out.Decimals), out.Symbol)
	default:
		return nil, fmt.Errorf("unknown swap step %q", step)
	}
	if err != nil {
		return nil, err
	}
	return ts.finish(ctx, p)
}

func (ts *toolset) swapCall(in, out Token, amountIn, minOut *big.Int) (Call, error) {
	path := []common.Address{in.Address(), out.Address()}
	deadline := big.NewInt(ts.deps.Now().Add(swapDeadline).Unix())
	to := ts.deps.Registry.Contract("saucerswapRouter")
	var (
		data  []byte
		value *big.Int
		err   error
	)
	switch {
	case in.Native:
		data, err = router.Pack("swapExactETHForTokens", minOut, path, ts.from, deadline)
		value = tinybarsToWeibars(amountIn)
	case out.Native:
		data, err = router.Pack("swapExactTokensForETH", amountIn, minOut, path, ts.from, deadline)
	default:
		data, err = router.Pack("swapExactTokensForTokens", amountIn, minOut, path, ts.from, deadline)
	}
	if err != nil {
		return Call{}, err
	}
	return Call{To: to, Data: data, Value: value, Gas: gasSwap}, nil
}

func (ts *toolset) stakeTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameStake,
		Description: "Stake SAUCE in the SaucerSwap Infinity Pool for xSAUCE. Two steps: approval, then stake.",
		Parameters: object(map[string]any{
			"amount": stringProp("Amount of SAUCE in whole units"),
			"step":   stringProp("approval or stake; omit on the first call"),
		}, "amount"),
		Call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			sauce, err := ts.deps.Registry.Token("SAUCE")
			if err != nil {
				return nil, err
			}
			amount := str(args, "amount")
			value, err := ParseAmount(amount, sauce.Decimals)
			if err != nil {
				return nil, err
			}
			pool := ts.deps.Registry.Contract("saucerswapInfinityPool")
			step := str(args, "step")
			if step == "" {
				step = StepApproval
			}
			p := prepared{
				tool:   NameStake,
				step:   step,
				params: map[string]any{"amount": amount},
				operation: map[string]any{
					"protocol":  "saucerswap",
					"operation": "stake",
					"amount":    amount,
					"tokens":    []string{"SAUCE", "XSAUCE"},
				},
			}
			switch step {
			case StepApproval:
				p.call, err = approveCall(sauce.Address(), pool, value)
				p.description = fmt.Sprintf("Approve the Infinity Pool to spend %s SAUCE", amount)
				p.next = StepStake
			case StepStake:
				var data []byte
				data, err = infinity.Pack("enter", value)
				p.call = Call{To: pool, Data: data, Gas: gasStake}
				p.description = fmt.Sprintf("Stake %s SAUCE", amount)
			default:
				return nil, fmt.Errorf("unknown stake step %q", step)
			}
			if err != nil {
				return nil, err
			}
			return ts.finish(ctx, p)
		},
	}
}

func (ts *toolset) depositTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameDeposit,
		Description: "Supply a token to Bonzo Finance. Steps: association of the aToken, approval, deposit. HBAR skips approval.",
		Parameters: object(map[string]any{
			"token":  stringProp("Symbol of the token to supply"),
			"amount": stringProp("Amount in whole units"),
			"step":   stringProp("association, approval or deposit; omit on the first call"),
		}, "token", "amount"),
		Call: ts.deposit,
	}
}

func (ts *toolset) deposit(ctx context.Context, args map[string]any) (map[string]any, error) {
	tok, err := ts.deps.Registry.Token(str(args, "token"))
	if err != nil {
		return nil, err
	}
	if tok.AToken == "" {
		return nil, fmt.Errorf("%s is not listed on Bonzo", tok.Symbol)
	}
	amount := str(args, "amount")
	value, err := ParseAmount(amount, tok.Decimals)
	if err != nil {
		return nil, err
	}
	pool := ts.deps.Registry.Contract("bonzoLendingPool")

	step := str(args, "step")
	if step == "" {
		step = StepDeposit
		if !tok.Native {
			step = StepApproval
		}
		assoc, err := ts.needsAssociation(ctx, tok.AToken)
		if err != nil {
			return nil, err
		}
		if assoc {
			step = StepAssociation
		}
	}

	p := prepared{
		tool:   NameDeposit,
		step:   step,
		params: map[string]any{"token": tok.Symbol, "amount": amount},
		operation: map[string]any{
			"protocol":  "bonzo",
			"operation": "deposit",
			"amount":    amount,
			"tokens":    []string{tok.Symbol},
		},
	}
	switch step {
	case StepAssociation:
		aToken, perr := identity.ParseAccountID(tok.AToken)
		if perr != nil {
			return nil, perr
		}
		p.call, err = associateCall(aToken.EVMAddress())
		p.description = fmt.Sprintf("Associate the Bonzo a%s token with your account", tok.Symbol)
		p.next = StepDeposit
		if !tok.Native {
			p.next = StepApproval
		}
	case StepApproval:
		if tok.Native {
			return nil, fmt.Errorf("HBAR needs no approval")
		}
		p.call, err = approveCall(tok.Address(), pool, value)
		p.description = fmt.Sprintf("Approve Bonzo to spend %s %s", amount, tok.Symbol)
		p.next = StepDeposit
	case StepDeposit:
		var data []byte
		if tok.Native {
			data, err = wethGateway.Pack("depositETH", pool, ts.from, uint16(0))
			p.call = Call{To: ts.deps.Registry.Contract("bonzoWethGateway"), Data: data,
				Value: tinybarsToWeibars(value), Gas: gasLending}
		} else {
			data, err = lendingPool.Pack("deposit", tok.Address(), value, ts.from, uint16(0))
			p.call = Call{To: pool, Data: data, Gas: gasLending}
		}
		p.description = fmt.Sprintf("Deposit %s %s into Bonzo", amount, tok.Symbol)
	default:
		return nil, fmt.Errorf("unknown deposit step %q", step)
	}
	if err != nil {
		return nil, err
	}
	return ts.finish(ctx, p)
}

func (ts *toolset) withdrawTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameWithdraw,
		Description: "Withdraw a supplied token from Bonzo Finance. Use amount \"max\" to withdraw everything.",
		Parameters: object(map[string]any{
			"token":  stringProp("Symbol of the supplied token"),
			"amount": stringProp("Amount in whole units, or max"),
		}, "token", "amount"),
		Call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			tok, err := ts.deps.Registry.Token(str(args, "token"))
			if err != nil {
				return nil, err
			}
			if tok.AToken == "" {
				return nil, fmt.Errorf("%s is not listed on Bonzo", tok.Symbol)
			}
			amount := str(args, "amount")
			var value *big.Int
			if strings.EqualFold(amount, "max") {
				value = maxUint256
			} else if value, err = ParseAmount(amount, tok.Decimals); err != nil {
				return nil, err
			}
			pool := ts.deps.Registry.Contract("bonzoLendingPool")
			var call Call
			if tok.Native {
				data, err := wethGateway.Pack("withdrawETH", pool, value, ts.from)
				if err != nil {
					return nil, err
				}
				call = Call{To: ts.deps.Registry.Contract("bonzoWethGateway"), Data: data, Gas: gasLending}
			} else {
				data, err := lendingPool.Pack("withdraw", tok.Address(), value, ts.from)
				if err != nil {
					return nil, err
				}
				call = Call{To: pool, Data: data, Gas: gasLending}
			}
			return ts.finish(ctx, prepared{
				tool:        NameWithdraw,
				step:        StepWithdraw,
				description: fmt.Sprintf("Withdraw %s %s from Bonzo", amount, tok.Symbol),
				call:        call,
				operation: map[string]any{
					"protocol":  "bonzo",
					"operation": "withdraw",
					"amount":    amount,
					"tokens":    []string{tok.Symbol},
				},
			})
		},
	}
}

func (ts *toolset) limitOrderTool() agent.FunctionTool {
	return agent.FunctionTool{
		Name:        NameLimitOrder,
		Description: "Create an AutoSwap limit order that swaps when tokenOut reaches triggerPrice (in tokenIn per tokenOut). Steps: approval, create_order. HBAR skips approval.",
		Parameters: object(map[string]any{
			"tokenIn":      stringProp("Symbol of the token to sell"),
			"tokenOut":     stringProp("Symbol of the token to buy"),
			"amount":       stringProp("Amount of tokenIn in whole units"),
			"triggerPrice": stringProp("Price of one tokenOut, in tokenIn, at which the order executes"),
			"slippage":     stringProp("Maximum slippage in percent; defaults to 0.5"),
			"expiryHours":  stringProp("Hours until the order expires; defaults to 24"),
			"step":         stringProp("approval or create_order; omit on the first call"),
		}, "tokenIn", "tokenOut", "amount", "triggerPrice"),
		Call: ts.limitOrder,
	}
}

func (ts *toolset) limitOrder(ctx context.Context, args map[string]any) (map[string]any, error) {
	in, out, err := ts.pair(args)
	if err != nil {
		return nil, err
	}
	amount := str(args, "amount")
	amountIn, err := ParseAmount(amount, in.Decimals)
	if err != nil {
		return nil, err
	}
	priceText := str(args, "triggerPrice")
	trigger, err := ParseAmount(priceText, priceDecimals)
	if err != nil {
		return nil, fmt.Errorf("triggerPrice: %w", err)
	}
	slippage, err := percent(args, "slippage", defaultSlippage)
	if err != nil {
		return nil, err
	}
	expiry := defaultOrderExpiry
	if h := str(args, "expiryHours"); h != "" {
		if expiry, err = strconv.Atoi(h); err != nil || expiry <= 0 {
			return nil, fmt.Errorf("invalid expiryHours %q", h)
		}
	}
	limit := ts.deps.Registry.Contract("autoswapLimit")

	step := str(args, "step")
	if step == "" {
		step = StepCreateOrder
		if !in.Native {
			step = StepApproval
		}
	}
	p := prepared{
		tool: NameLimitOrder,
		step: step,
		params: map[string]any{
			"tokenIn":      in.Symbol,
			"tokenOut":     out.Symbol,
			"amount":       amount,
			"triggerPrice": priceText,
			"slippage":     strconv.FormatFloat(slippage, 'f', -1, 64),
			"expiryHours":  strconv.Itoa(expiry),
		},
		operation: map[string]any{
			"protocol":     "autoswap",
			"operation":    "limit_order",
			"amount":       amount,
			"tokens":       []string{in.Symbol, out.Symbol},
			"triggerPrice": priceText,
		},
	}
	switch step {
	case StepApproval:
		if in.Native {
			return nil, fmt.Errorf("HBAR needs no approval")
		}
		p.call, err = approveCall(in.Address(), limit, amountIn)
		p.description = fmt.Sprintf("Approve AutoSwap to spend %s %s", amount, in.Symbol)
		p.next = StepCreateOrder
	case StepCreateOrder:
		// minAmountOut = amountIn / triggerPrice, rescaled to tokenOut decimals.
		r := new(big.Rat).SetFrac(new(big.Int).Mul(amountIn, pow10(priceDecimals)), trigger)
		r.Mul(r, new(big.Rat).SetFrac(pow10(out.Decimals), pow10(in.Decimals)))
		minOut := applySlippage(floorRat(r), slippage)
		expiration := big.NewInt(ts.deps.Now().Add(time.Duration(expiry) * time.Hour).Unix())
		var data []byte
		data, err = limitOrder.Pack("createSwapOrder", in.Address(), out.Address(), amountIn, minOut, trigger, expiration)
		p.call = Call{To: limit, Data: data, Gas: gasOrder}
		if in.Native {
			p.call.Value = tinybarsToWeibars(amountIn)
		}
		p.description = fmt.Sprintf("Limit order: sell %s %s for %s when price reaches %s", amount, in.Symbol, out.Symbol, priceText)
	default:
		return nil, fmt.Errorf("unknown limit order step %q", step)
	}
	if err != nil {
		return nil, err
	}
	return ts.finish(ctx, p)
}

func (ts *toolset) pair(args map[string]any) (Token, Token, error) {
	in, err := ts.deps.Registry.Token(str(args, "tokenIn"))
	if err != nil {
		return Token{}, Token{}, err
	}
	out, err := ts.deps.Registry.Token(str(args, "tokenOut"))
	if err != nil {
		return Token{}, Token{}, err
	}
	if in.ID == out.ID {
		return Token{}, Token{}, fmt.Errorf("tokenIn and tokenOut must differ")
	}
	return in, out, nil
}

// str reads a string argument. Models sometimes send numbers for amounts.
func str(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func percent(args map[string]any, key string, def float64) (float64, error) {
	s := str(args, key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || v < 0 || v >= 100 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return v, nil
}

func applySlippage(v *big.Int, pct float64) *big.Int {
	r := new(big.Rat).SetInt(v)
	r.Mul(r, ratFloat(1-pct/100))
	return floorRat(r)
}

func ratFloat(f float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'f', -1, 64))
	if !ok {
		return new(big.Rat)
	}
	return r
}

func floorRat(r *big.Rat) *big.Int {
	return new(big.Int).Quo(r.Num(), r.Denom())
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
