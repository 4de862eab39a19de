package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// AsyncConfig tunes an AsyncPublisher.
type AsyncConfig struct {
	QueueSize int
	// Timeout bounds each delivery to the wrapped publisher.
	Timeout time.Duration
}

// AsyncPublisher hands events to a single worker through a bounded queue.
// Publish never blocks; events are dropped with a warning when the queue
// is full.
type AsyncPublisher struct {
	next    Publisher
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the worker that drains into next.
func NewAsync(next Publisher, cfg AsyncConfig, logger *slog.Logger) *AsyncPublisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &AsyncPublisher{
		next:    next,
		queue:   make(chan Event, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues ev. ctx is not used; delivery happens on the worker.
func (p *AsyncPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("Event queue full, dropping event", "type", ev.Type, "account_id", ev.AccountID)
	}
	return nil
}

// Close delivers queued events, then closes the wrapped publisher.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.next.Close()
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, ev); err != nil {
			p.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
		}
		cancel()
	}
}
