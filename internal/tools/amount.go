package tools

import (
	"fmt"
	"math/big"
	"strings"
)

// weibarsPerTinybar converts HBAR's 8-decimal tinybars to the 18-decimal
// value unit used by the JSON-RPC relay.
var weibarsPerTinybar = big.NewInt(10_000_000_000)

// ParseAmount converts a decimal string such as "1.5" to base units.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(v, scale)
	s := r.FloatString(int(decimals))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// tinybarsToWeibars scales a native HBAR amount for transaction value.
func tinybarsToWeibars(v *big.Int) *big.Int {
	return new(big.Int).Mul(v, weibarsPerTinybar)
}
