package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/repledger/pkg/reward"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the frontend origins once they are configurable
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Account string `json:"account"` // account to follow, or "*" for every account
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "points.changed", "subscribed", "unsubscribed", "error"
	Payload interface{} `json:"payload"`
}

// clientSubscriptions tracks which accounts a client follows.
type clientSubscriptions struct {
	mu       sync.RWMutex
	accounts map[string]bool
}

// NewClientSubscriptions creates a new clientSubscriptions tracker.
func NewClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{accounts: make(map[string]bool)}
}

func (cs *clientSubscriptions) Subscribe(account string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.accounts[account] = true
}

func (cs *clientSubscriptions) Unsubscribe(account string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.accounts, account)
}

// IsSubscribed checks if an account is followed. Wildcard (*) matches every account.
func (cs *clientSubscriptions) IsSubscribed(account string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.accounts["*"] || cs.accounts[account]
}

// HandleWebSocket upgrades the connection and streams points-changed events.
//
// Protocol:
// Client sends: {"action": "subscribe", "account": "alice"}
// Client sends: {"action": "subscribe", "account": "*"}
// Client sends: {"action": "unsubscribe", "account": "alice"}
//
// Server sends:
// - {"type": "points.changed", "payload": {...}}
// - {"type": "subscribed", "payload": {"account": "alice"}}
// - {"type": "unsubscribed", "payload": {"account": "alice"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewClientSubscriptions()
	sub := c.App.Hub.Subscribe()
	defer sub.Close()

	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	goSafe := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in websocket goroutine",
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

	goSafe("events", func() { c.forwardEvents(ctx, sub, send, subs) })
	goSafe("ping", func() { c.sendPings(ctx, conn) })
	goSafe("writer", func() { c.writeMessages(ctx, conn, send) })

	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// forwardEvents filters hub events server-side by the client's subscriptions.
func (c *Controller) forwardEvents(ctx context.Context, sub *reward.Subscription, send chan<- ServerMessage, subs *clientSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C:
			if !subs.IsSubscribed(ev.Data.Account) {
				continue
			}
			select {
			case send <- ServerMessage{Type: ev.Type, Payload: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings sends periodic ping frames; the pong handler extends the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages handles subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	reply := func(msg ServerMessage) {
		select {
		case send <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			cancel()
			return
		}

		if msg.Account == "" && (msg.Action == "subscribe" || msg.Action == "unsubscribe") {
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "account is required"}})
			continue
		}
		switch msg.Action {
		case "subscribe":
			subs.Subscribe(msg.Account)
			reply(ServerMessage{Type: "subscribed", Payload: map[string]string{"account": msg.Account}})
		case "unsubscribe":
			subs.Unsubscribe(msg.Account)
			reply(ServerMessage{Type: "unsubscribed", Payload: map[string]string{"account": msg.Account}})
		default:
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
