// Package intent prefixes routing hints to user text before it reaches the
// agent, so lexically similar requests land on the right tool.
package intent

import (
	"regexp"
	"strings"
)

// Rule forces one tool and forbids others when any pattern matches and no
// Unless pattern does.
type Rule struct {
	Name     string
	Patterns []*regexp.Regexp
	Unless   []*regexp.Regexp
	Use      string
	Forbid   []string
	Note     string
}

// Matches reports whether any of the rule's patterns match text.
func (r Rule) Matches(text string) bool {
	for _, p := range r.Unless {
		if p.MatchString(text) {
			return false
		}
	}
	for _, p := range r.Patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Prefix returns the instruction prepended to matching text.
func (r Rule) Prefix() string {
	var b strings.Builder
	b.WriteString("[ROUTING: use the ")
	b.WriteString(r.Use)
	b.WriteString(" tool")
	if len(r.Forbid) > 0 {
		b.WriteString("; do NOT use ")
		b.WriteString(strings.Join(r.Forbid, ", "))
	}
	if r.Note != "" {
		b.WriteString(". ")
		b.WriteString(r.Note)
	}
	b.WriteString("]")
	return b.String()
}

// Tool names referenced by the routing rules.
const (
	ToolLimitOrder = "autoswap_limit_order"
	ToolSwap       = "saucerswap_swap"
	ToolQuote      = "saucerswap_get_quote"
)

// transactionVerb marks a request to move funds; such text is never
// narrowed to a read-only price lookup.
var transactionVerb = regexp.MustCompile(`(?i)\b(swap|deposit|withdraw|stake|unstake|buy|sell|trade|exchange|supply|lend|borrow|send|transfer)\b`)

// Rules is checked in order; the first match wins. The limit-order rule
// comes first so "buy X at <price>" is never treated as an immediate swap.
// A number followed by "%" after "at" is a slippage, not a target price.
var Rules = []Rule{
	{
		Name: "limit_order",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|sell)\b.+\bat\s+\$?\d+(\.\d+)?([^\d.%]|$)`),
			regexp.MustCompile(`(?i)\blimit\s+orders?\b`),
			regexp.MustCompile(`(?i)\bwhen\s+(the\s+)?price\s+(reaches|drops\s+to|falls\s+to|hits|goes\s+(up|down)\s+to)\b`),
		},
		Use:    ToolLimitOrder,
		Forbid: []string{ToolSwap},
		Note:   "This is a limit order to execute at a target price, not an immediate swap",
	},
	{
		Name: "price_query",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bprice\s+of\b`),
			regexp.MustCompile(`(?i)\bhow\s+much\s+is\b.+\bworth\b`),
			regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}\s+(?i:price)\b`),
			regexp.MustCompile(`(?i)\bwhat('s|\s+is)\s+\S+\s+trading\s+at\b`),
		},
		Unless: []*regexp.Regexp{transactionVerb},
		Use:    ToolQuote,
		Forbid: []string{ToolSwap, ToolLimitOrder, "bonzo_deposit", "bonzo_withdraw", "saucerswap_stake"},
		Note:   "Only report the price; do not build a transaction",
	},
}

// Match returns the first rule matching text.
func Match(text string) (Rule, bool) {
	for _, r := range Rules {
		if r.Matches(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rewrite prefixes text with the first matching rule's instruction.
// Unmatched text is returned unchanged.
func Rewrite(text string) string {
	r, ok := Match(text)
	if !ok {
		return text
	}
	return r.Prefix() + "\n\n" + text
}
