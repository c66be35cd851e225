package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webintercept/proxycore/internal/eventbus"
)

// upgrader handles HTTP -> WebSocket protocol upgrade. CheckOrigin
// allows all origins since the API is typically consumed by a local
// UI or CLI rather than browser pages subject to cross-origin risk.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a single WebSocket connection. Grounded on the
// teacher's wsConn, but its send channel is fed by an
// eventbus.Subscription instead of a dashboard-owned hub: the bus is
// already the single-goroutine owner of fan-out and backpressure, so
// this package does not run a second one.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

type wsMessage struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// handleWebSocket upgrades the connection and relays every event-bus
// message to the client until either side disconnects. Clients may
// send {"type":"ping"} and receive {"type":"pong"} as a liveness check;
// any other incoming message is ignored, since the feed is otherwise
// server-to-client only.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsConn{conn: conn, send: make(chan []byte, 64)}
	sub := h.opts.Bus.Subscribe()

	go client.writePump()
	go client.relayPump(sub)
	client.readPump(sub)
}

// relayPump forwards every event the subscription delivers onto the
// connection's send channel, JSON-encoded, until the bus closes the
// subscription's channel.
func (c *wsConn) relayPump(sub *eventbus.Subscription) {
	for ev := range sub.C() {
		data, err := json.Marshal(wsMessage{Type: "event", Topic: ev.Topic, Payload: ev.Payload})
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Connection's own send buffer is full; the bus already
			// dropped-oldest upstream, so drop here too rather than block.
		}
	}
}

func (c *wsConn) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *wsConn) readPump(sub *eventbus.Subscription) {
	defer func() {
		sub.Close()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(wsMessage{Type: "pong"})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}
