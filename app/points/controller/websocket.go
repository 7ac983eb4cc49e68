package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsFeedBuffer   = 256
	// wildcard subscribes to every address.
	wildcard = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Address string `json:"address"` // address, or "*" for every address
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string `json:"type"` // "points.accrued", "subscribed", "unsubscribed", "error"
	Payload any    `json:"payload"`
}

// clientSubscriptions tracks the addresses a client follows.
type clientSubscriptions struct {
	mu        sync.RWMutex
	addresses map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{addresses: make(map[string]bool)}
}

func (cs *clientSubscriptions) Subscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.addresses[address] = true
}

func (cs *clientSubscriptions) Unsubscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.addresses, address)
}

// IsSubscribed reports whether address is followed directly or by wildcard.
func (cs *clientSubscriptions) IsSubscribed(address string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.addresses[wildcard] || cs.addresses[address]
}

// HandleWebSocket streams newly written ledger entries.
//
// Protocol:
// Client sends: {"action": "subscribe", "address": "0xabc..."}
// Client sends: {"action": "subscribe", "address": "*"}
// Client sends: {"action": "unsubscribe", "address": "0xabc..."}
//
// Server sends:
// - {"type": "points.accrued", "payload": {...ledger entry...}}
// - {"type": "subscribed", "payload": {"address": "0xabc..."}}
// - {"type": "unsubscribed", "payload": {"address": "0xabc..."}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newClientSubscriptions()
	send := make(chan ServerMessage, wsFeedBuffer)
	feed, unsubscribe := c.App.Feed.Subscribe(wsFeedBuffer)
	defer unsubscribe()

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in WebSocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}

	run("feed", func() { forwardEntries(ctx, feed.C, send, subs) })
	run("ping", func() { c.sendPings(ctx, conn, cancel) })
	run("writer", func() { c.writeMessages(ctx, conn, cancel, send) })

	// Unblock the reader once any side gives up.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	// Blocks until the client goes away.
	c.readClientMessages(ctx, conn, subs, send)
	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// forwardEntries filters feed entries by the client's subscriptions.
func forwardEntries(ctx context.Context, feed <-chan models.PointsLedgerEntry, send chan<- ServerMessage, subs *clientSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-feed:
			if !subs.IsSubscribed(entry.Address) {
				continue
			}
			select {
			case send <- ServerMessage{Type: "points.accrued", Payload: entry}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings sends periodic ping frames; the pong handler extends the read
// deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

// reply queues msg unless the connection is shutting down.
func reply(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}

// readClientMessages handles subscription requests until the connection
// closes or ctx ends.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return
		}

		address := msg.Address
		if address != wildcard {
			canonical, err := models.CanonicalAddress(address)
			if err != nil {
				reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "invalid address"}})
				continue
			}
			address = canonical
		}

		switch msg.Action {
		case "subscribe":
			subs.Subscribe(address)
			reply(ctx, send, ServerMessage{Type: "subscribed", Payload: map[string]string{"address": address}})
		case "unsubscribe":
			subs.Unsubscribe(address)
			reply(ctx, send, ServerMessage{Type: "unsubscribed", Payload: map[string]string{"address": address}})
		default:
			reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
