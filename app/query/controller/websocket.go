package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/archon-data/chainstate/pkg/notify"
	"github.com/archon-data/chainstate/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Chain  string `json:"chain"`  // Chain name to subscribe to, or "*" for all chains
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "delta.committed", "subscribed", "unsubscribed", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks what chains a client is subscribed to.
type clientSubscriptions struct {
	mu     sync.RWMutex
	chains map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		chains: make(map[string]bool),
	}
}

func (cs *clientSubscriptions) subscribe(chain string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.chains[chain] = true
}

func (cs *clientSubscriptions) unsubscribe(chain string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.chains, chain)
}

// isSubscribed checks if a chain is subscribed. Wildcard (*) matches all
// chains.
func (cs *clientSubscriptions) isSubscribed(chain string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.chains["*"] {
		return true
	}
	return cs.chains[chain]
}

// HandleWebSocket upgrades the HTTP connection to WebSocket and streams
// committed delta announcements.
//
// Protocol:
// Client sends: {"action": "subscribe", "chain": "ethereum"}  // Subscribe to specific chain
// Client sends: {"action": "subscribe", "chain": "*"}         // Subscribe to ALL chains
// Client sends: {"action": "unsubscribe", "chain": "ethereum"}
//
// Server sends:
// - {"type": "delta.committed", "payload": {"chain": ..., "block_hash": ..., "block_number": ..., "ts": ...}}
// - {"type": "subscribed", "payload": {"chain": "ethereum"}}
// - {"type": "unsubscribed", "payload": {"chain": "ethereum"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.Redis == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newClientSubscriptions()

	// Channel for outgoing messages
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup

	// Stream consumer, ping ticker and message writer each get panic
	// recovery so one bad goroutine can't take the process down.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverToCancel(cancel, r.RemoteAddr, "delta consumer")
		c.consumeDeltas(ctx, send, subs)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverToCancel(cancel, r.RemoteAddr, "ping ticker")
		c.sendPings(ctx, conn)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverToCancel(cancel, r.RemoteAddr, "message writer")
		c.writeMessages(conn, send)
	}()

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)

	close(send)
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverToCancel(cancel context.CancelFunc, remoteAddr, goroutine string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.String("goroutine", goroutine),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remoteAddr))
		cancel()
	}
}

// consumeDeltas tails the delta announcement stream and forwards entries the
// client subscribed to. Starting at "$" means a client only sees deltas
// committed after it connected. Reconnection with backoff lives inside the
// stream consumer.
func (c *Controller) consumeDeltas(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	consumer, err := notify.NewStreamConsumer(c.App.Redis, notify.StreamConsumerConfig{
		Stream: c.App.DeltaStream,
		LastID: "$",
		Logger: c.App.Logger,
	})
	if err != nil {
		c.App.Logger.Error("Failed to build delta stream consumer", zap.Error(err))
		select {
		case send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "real-time events unavailable"}}:
		case <-ctx.Done():
		}
		return
	}

	err = consumer.Run(ctx, func(ctx context.Context, msg notify.Message) error {
		announcement, err := notify.ParseAnnouncement(msg)
		if err != nil {
			c.App.Logger.Warn("Skipping malformed delta announcement",
				zap.String("id", msg.ID),
				zap.Error(err))
			return nil
		}

		// Server-side filtering: only forward if client is subscribed
		if !subs.isSubscribed(announcement.Chain.String()) {
			return nil
		}

		select {
		case send <- ServerMessage{Type: "delta.committed", Payload: announcement}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		c.App.Logger.Warn("Delta stream consumer stopped", zap.Error(err))
	}
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
// The client will automatically respond with pong frames, which resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages writes messages from the send channel to the WebSocket connection.
func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readClientMessages reads messages from the WebSocket connection.
// Handles subscription/unsubscription requests and detects connection closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.App.Logger.Error("WebSocket read error", zap.Error(err))
				}
				cancel()
				return
			}

			if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
				c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
				return
			}

			switch msg.Action {
			case "subscribe":
				if !validSubscriptionChain(msg.Chain) {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "chain must be a known chain name or *"}}
					continue
				}
				subs.subscribe(msg.Chain)
				c.App.Logger.Debug("Client subscribed", zap.String("chain", msg.Chain))
				send <- ServerMessage{Type: "subscribed", Payload: map[string]string{"chain": msg.Chain}}

			case "unsubscribe":
				if msg.Chain == "" {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "chain is required"}}
					continue
				}
				subs.unsubscribe(msg.Chain)
				c.App.Logger.Debug("Client unsubscribed", zap.String("chain", msg.Chain))
				send <- ServerMessage{Type: "unsubscribed", Payload: map[string]string{"chain": msg.Chain}}

			default:
				send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
			}
		}
	}
}

// validSubscriptionChain accepts the wildcard or any known chain name.
func validSubscriptionChain(chain string) bool {
	if chain == "*" {
		return true
	}
	_, err := types.ParseChain(chain)
	return err == nil
}
