package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// MirrorNode wraps the Hedera mirror node REST API.
type MirrorNode struct {
	rest    *RESTClient
	baseURL string
}

// NewMirrorNode creates a mirror node client.
func NewMirrorNode(rest *RESTClient, baseURL string) *MirrorNode {
	return &MirrorNode{rest: rest, baseURL: strings.TrimRight(baseURL, "/")}
}

// Balance is an account's HBAR and token holdings in base units.
type Balance struct {
	Account string         `json:"account"`
	Balance int64          `json:"balance"`
	Tokens  []TokenBalance `json:"tokens"`
}

// TokenBalance is one token holding in base units.
type TokenBalance struct {
	TokenID string `json:"token_id"`
	Balance int64  `json:"balance"`
}

// Balance returns the account's current balances.
func (m *MirrorNode) Balance(ctx context.Context, accountID string) (*Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	u := fmt.Sprintf("%s/api/v1/balances?account.id=%s", m.baseURL, url.QueryEscape(accountID))
	if err := m.rest.GetFresh(ctx, u, nil, &out); err != nil {
		return nil, fmt.Errorf("mirror balance: %w", err)
	}
	if len(out.Balances) == 0 {
		return nil, fmt.Errorf("mirror balance: account %s not found", accountID)
	}
	return &out.Balances[0], nil
}

// IsAssociated reports whether accountID is associated with tokenID.
func (m *MirrorNode) IsAssociated(ctx context.Context, accountID, tokenID string) (bool, error) {
	var out struct {
		Tokens []struct {
			TokenID string `json:"token_id"`
		} `json:"tokens"`
	}
	u := fmt.Sprintf("%s/api/v1/accounts/%s/tokens?token.id=%s", m.baseURL,
		url.PathEscape(accountID), url.QueryEscape(tokenID))
	if err := m.rest.GetFresh(ctx, u, nil, &out); err != nil {
		return false, fmt.Errorf("mirror token relationships: %w", err)
	}
	for _, t := range out.Tokens {
		if t.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}

// SaucerSwap wraps the SaucerSwap public API.
type SaucerSwap struct {
	rest    *RESTClient
	baseURL string
	apiKey  string
}

// NewSaucerSwap creates a SaucerSwap API client.
func NewSaucerSwap(rest *RESTClient, baseURL, apiKey string) *SaucerSwap {
	return &SaucerSwap{rest: rest, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// TokenPrice is one entry of the SaucerSwap token list.
type TokenPrice struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	PriceUSD float64 `json:"priceUsd"`
}

// Prices returns USD prices keyed by token id.
func (s *SaucerSwap) Prices(ctx context.Context) (map[string]TokenPrice, error) {
	var list []TokenPrice
	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"x-api-key": s.apiKey}
	}
	if err := s.rest.Get(ctx, s.baseURL+"/tokens", headers, &list); err != nil {
		return nil, fmt.Errorf("saucerswap tokens: %w", err)
	}
	out := make(map[string]TokenPrice, len(list))
	for _, t := range list {
		out[t.ID] = t
	}
	return out, nil
}

// Bonzo wraps the Bonzo Finance data API.
type Bonzo struct {
	rest    *RESTClient
	baseURL string
}

// NewBonzo creates a Bonzo data API client.
func NewBonzo(rest *RESTClient, baseURL string) *Bonzo {
	return &Bonzo{rest: rest, baseURL: strings.TrimRight(baseURL, "/")}
}

// Market returns the raw market overview (reserves, rates, liquidity).
func (b *Bonzo) Market(ctx context.Context) (json.RawMessage, error) {
	body, err := b.rest.GetJSON(ctx, b.baseURL+"/market", nil)
	if err != nil {
		return nil, fmt.Errorf("bonzo market: %w", err)
	}
	return body, nil
}
