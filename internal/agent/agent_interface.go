// Package agent defines the language-model collaborator and its concrete
// backends.
package agent

import (
	"context"
	"errors"
)

// ErrEmptyInstruction is returned when Invoke is called with blank input.
var ErrEmptyInstruction = errors.New("empty instruction")

// Agent runs one conversational turn. Implementations keep conversation
// continuity keyed by threadID and must be safe to call concurrently for
// distinct thread ids.
type Agent interface {
	Invoke(ctx context.Context, threadID, instruction string) (*Response, error)
}

// Factory builds the per-account agent and tool-set. Build must be
// deterministic for a given account and free of observable side effects.
type Factory interface {
	Build(ctx context.Context, accountID string) (Agent, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, accountID string) (Agent, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, accountID string) (Agent, error) {
	return f(ctx, accountID)
}

// Ensure the backends implement Factory.
var (
	_ Factory = (*GrpcClient)(nil)
	_ Factory = (*GeminiFactory)(nil)
)
