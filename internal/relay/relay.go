package relay

import (
	"context"
	"log/slog"

	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/events"
	"github.com/rofergon/Hedron/internal/session"
	"github.com/rofergon/Hedron/internal/store"
)

// Relay wires the registry to the turn pipeline. Its methods are safe for
// concurrent use across channels.
type Relay struct {
	registry  *session.Registry
	repo      store.Repository
	publisher events.Publisher
	convLog   agent.ConversationLogger
	logger    *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithRepository records confirmations in repo.
func WithRepository(repo store.Repository) Option {
	return func(r *Relay) { r.repo = repo }
}

// WithPublisher publishes transaction events to p. Publish is called inline,
// so p should queue rather than block (see events.NewAsync).
func WithPublisher(p events.Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// WithConversationLogger records conversation traffic to l.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(r *Relay) { r.convLog = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New creates a Relay over registry.
func New(registry *session.Registry, opts ...Option) *Relay {
	r := &Relay{
		registry: registry,
		convLog:  agent.NoopConversationLogger{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the session registry.
func (r *Relay) Registry() *session.Registry { return r.registry }

func (r *Relay) send(ctx context.Context, ch Channel, msg Outbound) {
	if err := ch.Send(ctx, msg); err != nil {
		r.logger.Debug("Failed to send envelope", "channel_id", ch.ID(), "type", msg.Kind(), "error", err)
	}
}

func (r *Relay) sendSystem(ctx context.Context, ch Channel, level, msg string) {
	r.send(ctx, ch, newSystemMessage(level, msg))
}

func (r *Relay) publish(ev events.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(context.Background(), ev); err != nil {
		r.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
	}
}

func (r *Relay) record(ch Channel, sess *session.Session, direction, eventType, content string, meta map[string]any) {
	r.convLog.Log(agent.ConversationLogEvent{
		AccountID:  sess.AccountID(),
		ThreadID:   sess.ThreadID(),
		ChannelID:  ch.ID(),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
