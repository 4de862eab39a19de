package tools

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainReader is the subset of ethclient.Client the builder needs.
type ChainReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

const (
	erc20ABI = `[
		{"type":"function","name":"approve","stateMutability":"nonpayable",
		 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		 "outputs":[{"name":"","type":"bool"}]}
	]`
	// HIP-719 token facade: calling associate() on the token address
	// associates the caller.
	htsFacadeABI = `[
		{"type":"function","name":"associate","stateMutability":"nonpayable","inputs":[],
		 "outputs":[{"name":"responseCode","type":"uint256"}]}
	]`
	routerABI = `[
		{"type":"function","name":"swapExactETHForTokens","stateMutability":"payable",
		 "inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
		           {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"type":"function","name":"swapExactTokensForETH","stateMutability":"nonpayable",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]}
	]`
	infinityPoolABI = `[
		{"type":"function","name":"enter","stateMutability":"nonpayable",
		 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
	]`
	lendingPoolABI = `[
		{"type":"function","name":"deposit","stateMutability":"nonpayable",
		 "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
		           {"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"type":"function","name":"withdraw","stateMutability":"nonpayable",
		 "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`
	wethGatewayABI = `[
		{"type":"function","name":"depositETH","stateMutability":"payable",
		 "inputs":[{"name":"lendingPool","type":"address"},{"name":"onBehalfOf","type":"address"},
		           {"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"type":"function","name":"withdrawETH","stateMutability":"nonpayable",
		 "inputs":[{"name":"lendingPool","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],
		 "outputs":[]}
	]`
	limitOrderABI = `[
		{"type":"function","name":"createSwapOrder","stateMutability":"payable",
		 "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		           {"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},
		           {"name":"triggerPrice","type":"uint256"},{"name":"expirationTime","type":"uint256"}],
		 "outputs":[{"name":"orderId","type":"uint256"}]}
	]`
)

var (
	erc20       = mustABI(erc20ABI)
	htsFacade   = mustABI(htsFacadeABI)
	router      = mustABI(routerABI)
	infinity    = mustABI(infinityPoolABI)
	lendingPool = mustABI(lendingPoolABI)
	wethGateway = mustABI(wethGatewayABI)
	limitOrder  = mustABI(limitOrderABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Gas limits per call kind. The relay estimates nothing on-chain.
const (
	gasAssociate = 800_000
	gasApprove   = 100_000
	gasSwap      = 600_000
	gasStake     = 300_000
	gasLending   = 1_000_000
	gasOrder     = 500_000
)

// Call is one contract invocation to be wrapped in a transaction.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// TxBuilder produces unsigned legacy transactions for an external signer.
type TxBuilder struct {
	chain   ChainReader
	chainID *big.Int
}

// NewTxBuilder creates a builder for chainID.
func NewTxBuilder(chain ChainReader, chainID int64) *TxBuilder {
	return &TxBuilder{chain: chain, chainID: big.NewInt(chainID)}
}

// ChainID returns the target chain.
func (b *TxBuilder) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

// Build fills nonce and gas price for from and returns the RLP encoding of
// the unsigned transaction.
func (b *TxBuilder) Build(ctx context.Context, from common.Address, c Call) ([]byte, error) {
	nonce, err := b.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := b.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	to := c.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.Gas,
		To:       &to,
		Value:    value,
		Data:     c.Data,
	})
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

func associateCall(token common.Address) (Call, error) {
	data, err := htsFacade.Pack("associate")
	if err != nil {
		return Call{}, err
	}
	return Call{To: token, Data: data, Gas: gasAssociate}, nil
}

func approveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return Call{}, err
	}
	return Call{To: token, Data: data, Gas: gasApprove}, nil
}
