// Package tools implements the per-account tool-set the in-process agent
// calls: balance and market queries over REST, and unsigned EVM
// transactions for the supported DeFi protocols.
package tools

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rofergon/Hedron/internal/identity"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Token is one supported fungible token. Native marks HBAR, whose EVM
// address is the wrapped token used in swap paths.
type Token struct {
	Symbol   string `yaml:"symbol"`
	ID       string `yaml:"id"`
	Decimals uint8  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
	// AToken is the Bonzo interest-bearing token minted on deposit.
	AToken string `yaml:"aToken"`

	address common.Address
}

// Address returns the token's long-zero EVM address.
func (t Token) Address() common.Address { return t.address }

// Contracts holds the protocol entry points.
type Contracts struct {
	SaucerSwapRouter       string `yaml:"saucerswapRouter"`
	SaucerSwapInfinityPool string `yaml:"saucerswapInfinityPool"`
	BonzoLendingPool       string `yaml:"bonzoLendingPool"`
	BonzoWethGateway       string `yaml:"bonzoWethGateway"`
	AutoSwapLimit          string `yaml:"autoswapLimit"`
}

// Registry is the network's token and contract directory.
type Registry struct {
	Network   string    `yaml:"network"`
	ChainID   int64     `yaml:"chainId"`
	Contracts Contracts `yaml:"contracts"`
	Tokens    []Token   `yaml:"tokens"`

	bySymbol  map[string]Token
	byID      map[string]Token
	addresses map[string]common.Address
}

// LoadRegistry reads path, or the embedded testnet registry when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultRegistry
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read registry: %w", err)
		}
		data = b
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if r.ChainID <= 0 {
		return nil, fmt.Errorf("registry: chainId must be > 0")
	}

	r.bySymbol = make(map[string]Token, len(r.Tokens))
	r.byID = make(map[string]Token, len(r.Tokens))
	for i, t := range r.Tokens {
		id, err := identity.ParseAccountID(t.ID)
		if err != nil {
			return nil, fmt.Errorf("registry token %s: %w", t.Symbol, err)
		}
		t.address = id.EVMAddress()
		r.Tokens[i] = t
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
		if !t.Native {
			r.byID[t.ID] = t
		}
	}

	r.addresses = make(map[string]common.Address)
	for name, id := range map[string]string{
		"saucerswapRouter":       r.Contracts.SaucerSwapRouter,
		"saucerswapInfinityPool": r.Contracts.SaucerSwapInfinityPool,
		"bonzoLendingPool":       r.Contracts.BonzoLendingPool,
		"bonzoWethGateway":       r.Contracts.BonzoWethGateway,
		"autoswapLimit":          r.Contracts.AutoSwapLimit,
	} {
		parsed, err := identity.ParseAccountID(id)
		if err != nil {
			return nil, fmt.Errorf("registry contract %s: %w", name, err)
		}
		r.addresses[name] = parsed.EVMAddress()
	}
	return &r, nil
}

// Token looks a token up by symbol, case-insensitively.
func (r *Registry) Token(symbol string) (Token, error) {
	t, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("unsupported token %q", symbol)
	}
	return t, nil
}

// TokenByID looks a non-native token up by entity id.
func (r *Registry) TokenByID(id string) (Token, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Contract returns a contract address by registry key.
func (r *Registry) Contract(name string) common.Address {
	return r.addresses[name]
}

// Symbols lists the supported token symbols in registry order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		out = append(out, t.Symbol)
	}
	return out
}
