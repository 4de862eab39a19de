package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/events"
	"github.com/rofergon/Hedron/internal/identity"
)

// ErrNotAuthenticated is returned when a channel has no session.
var ErrNotAuthenticated = errors.New("not authenticated")

// Registry maps channel ids to sessions. It is the only state shared
// across channels.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory   agent.Factory
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sends session.opened and session.closed events to p.
// Publish is called inline and should not block.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry that builds agents with factory.
func NewRegistry(factory agent.Factory, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authenticate binds channelID to accountID. The same account returns the
// existing session. A different account retires the old session before the
// new one is built. Factory errors are returned as is and leave the channel
// unauthenticated.
func (r *Registry) Authenticate(ctx context.Context, channelID, accountID string) (*Session, error) {
	id, err := identity.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	accountID = id.String()

	if existing := r.Lookup(channelID); existing != nil {
		if existing.AccountID() == accountID {
			return existing, nil
		}
		r.logger.Info("Account switch", "channel_id", channelID,
			"from", existing.AccountID(), "to", accountID)
		r.remove(channelID, existing, "account_switch")
	}

	a, err := r.factory.Build(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("build agent for %s: %w", accountID, err)
	}

	now := r.now()
	sess := newSession(accountID, fmt.Sprintf("%s-%d", accountID, now.UnixNano()), a, now)

	r.mu.Lock()
	prev := r.sessions[channelID]
	r.sessions[channelID] = sess
	r.mu.Unlock()
	if prev != nil {
		prev.retire()
	}

	r.logger.Info("Session registered", "channel_id", channelID,
		"account_id", accountID, "thread_id", sess.ThreadID())
	r.publish(events.New(events.TypeSessionOpened, accountID, sess.ThreadID(), channelID, nil))
	return sess, nil
}

// Lookup returns the channel's session or nil.
func (r *Registry) Lookup(channelID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[channelID]
}

// Teardown retires and removes the channel's session. It is a no-op for
// unknown channels.
func (r *Registry) Teardown(channelID string) {
	if sess := r.Lookup(channelID); sess != nil {
		r.remove(channelID, sess, "teardown")
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Teardown(id)
	}
}

func (r *Registry) remove(channelID string, sess *Session, reason string) {
	r.mu.Lock()
	current, ok := r.sessions[channelID]
	if ok && current == sess {
		delete(r.sessions, channelID)
	}
	r.mu.Unlock()
	if !ok || current != sess {
		return
	}

	sess.retire()
	r.logger.Info("Session unregistered", "channel_id", channelID,
		"account_id", sess.AccountID(), "thread_id", sess.ThreadID(), "reason", reason)
	r.publish(events.New(events.TypeSessionClosed, sess.AccountID(), sess.ThreadID(), channelID,
		map[string]any{"reason": reason}))
}

func (r *Registry) publish(ev events.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(context.Background(), ev); err != nil {
		r.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
	}
}
