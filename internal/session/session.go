// Package session binds one connection to one account, its agent, and its
// deferred transaction step.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/domain"
)

// Session is the state owned by one authenticated channel.
type Session struct {
	accountID string
	threadID  string
	createdAt time.Time

	// turn serializes turns and confirmations for this session.
	turn chan struct{}

	mu        sync.Mutex
	agent     agent.Agent
	pending   *domain.PendingStep
	operation *domain.OperationContext
	retired   bool
}

func newSession(accountID, threadID string, a agent.Agent, now time.Time) *Session {
	return &Session{
		accountID: accountID,
		threadID:  threadID,
		createdAt: now,
		turn:      make(chan struct{}, 1),
		agent:     a,
	}
}

// AccountID returns the bound account.
func (s *Session) AccountID() string { return s.accountID }

// ThreadID returns the conversation thread identifier.
func (s *Session) ThreadID() string { return s.threadID }

// CreatedAt returns when the session was built.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Agent returns the session's agent, or nil once retired.
func (s *Session) Agent() agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Retired reports whether the session has been torn down or replaced.
func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// Acquire blocks until the caller holds the session's turn lock.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up the turn lock taken by Acquire.
func (s *Session) Release() {
	select {
	case <-s.turn:
	default:
	}
}

// SetPending stores step, replacing any earlier one.
func (s *Session) SetPending(step *domain.PendingStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return
	}
	s.pending = step.Clone()
}

// TakePending returns the pending step and clears the slot.
func (s *Session) TakePending() *domain.PendingStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// DiscardPending clears the slot without returning it.
func (s *Session) DiscardPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Pending returns a copy of the pending step without clearing it.
func (s *Session) Pending() *domain.PendingStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Clone()
}

// SetOperation stores the last prepared operation, replacing any earlier one.
func (s *Session) SetOperation(op *domain.OperationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return
	}
	s.operation = op.Clone()
}

// TakeOperation returns the operation context and clears it.
func (s *Session) TakeOperation() *domain.OperationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.operation
	s.operation = nil
	return op
}

// Operation returns a copy of the operation context without clearing it.
func (s *Session) Operation() *domain.OperationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operation.Clone()
}

func (s *Session) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
	s.pending = nil
	s.operation = nil
	s.agent = nil
}
