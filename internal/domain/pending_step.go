// Package domain contains core domain types for the Hedron relay.
package domain

import (
	"maps"
	"slices"
)

// PendingStep describes a deferred follow-up action that runs after the
// external signer confirms the transaction produced by the previous turn.
type PendingStep struct {
	Tool                 string         `json:"tool"`
	Step                 string         `json:"step"`
	OriginalParams       map[string]any `json:"originalParams,omitempty"`
	NextStepInstructions string         `json:"nextStepInstructions,omitempty"`
}

// Clone returns a copy whose params map is not shared with the receiver.
func (p *PendingStep) Clone() *PendingStep {
	if p == nil {
		return nil
	}
	c := *p
	if p.OriginalParams != nil {
		c.OriginalParams = maps.Clone(p.OriginalParams)
	}
	return &c
}

// ParamKeys returns the carried parameter names in sorted order.
func (p *PendingStep) ParamKeys() []string {
	if p == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(p.OriginalParams))
}

// OperationContext is the lightweight descriptor of the last prepared
// operation, used only to word the completion message.
type OperationContext struct {
	Protocol    string   `json:"protocol"`
	Operation   string   `json:"operation"`
	AmountLabel string   `json:"amount,omitempty"`
	Tokens      []string `json:"tokens,omitempty"`
}

// Clone returns a copy whose token slice is not shared with the receiver.
func (o *OperationContext) Clone() *OperationContext {
	if o == nil {
		return nil
	}
	c := *o
	c.Tokens = slices.Clone(o.Tokens)
	return &c
}
