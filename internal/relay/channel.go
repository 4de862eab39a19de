package relay

import "context"

// Channel is one client connection. Send must be safe for concurrent use
// and must return nil once the channel is closed.
type Channel interface {
	ID() string
	Send(ctx context.Context, msg Outbound) error
}
