package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rofergon/Hedron/internal/identity"
)

// WebSocketHandler accepts client connections and feeds their envelopes to
// the relay, one at a time per connection.
type WebSocketHandler struct {
	relay         *Relay
	allowedOrigin string
	isDev         bool
	inboxSize     int
	readLimit     int64
	writeTimeout  time.Duration
}

// WebSocketConfig tunes per-connection resources.
type WebSocketConfig struct {
	AllowedOrigin string
	IsDev         bool
	InboxSize     int
	ReadLimit     int64
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(relay *Relay, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 32
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &WebSocketHandler{
		relay:         relay,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		inboxSize:     cfg.InboxSize,
		readLimit:     cfg.ReadLimit,
		writeTimeout:  10 * time.Second,
	}
}

// wsChannel adapts a websocket.Conn to Channel. Writes are serialized and
// become no-ops once the connection is closed.
type wsChannel struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *wsChannel) ID() string { return c.id }

func (c *wsChannel) Send(ctx context.Context, msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	// Writes use their own deadline so a cancelled turn can still report.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *wsChannel) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := uuid.NewString()
	slog.Info("WebSocket connection request", "channel_id", channelID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "channel_id", channelID)
		return
	}
	ws.SetReadLimit(h.readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "channel_id", channelID)
		}
	}()

	ch := &wsChannel{id: channelID, conn: ws, timeout: h.writeTimeout}
	ctx, cancel := context.WithCancel(r.Context())

	registry := h.relay.Registry()
	inbox := make(chan []byte, h.inboxSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for raw := range inbox {
			if ctx.Err() != nil {
				continue
			}
			h.relay.HandleMessage(ctx, ch, raw)
		}
	}()

	defer func() {
		ch.close()
		cancel()
		close(inbox)
		wg.Wait()
		registry.Teardown(channelID)
		slog.Info("Relay connection ended", "channel_id", channelID)
	}()

	h.relay.sendSystem(ctx, ch, LevelInfo, "Connected to Hedron. Send CONNECTION_AUTH with your account id to begin.")
	h.readLoop(ctx, ws, ch, inbox)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, ch *wsChannel, inbox chan<- []byte) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "channel_id", ch.id)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "channel_id", ch.id)
			}
			return
		}
		select {
		case inbox <- data:
		default:
			slog.Warn("Inbox full, dropping envelope", "channel_id", ch.id)
			h.relay.sendSystem(ctx, ch, LevelError, "Message dropped: too many messages in flight. Please resend it after the current reply.")
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
