package proxyengine

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/flow"
)

// hijackShim adapts an already-read net.Conn (whose request line has
// already been consumed by bufio.Reader br) into the http.ResponseWriter
// + http.Hijacker pair gorilla/websocket's Upgrader expects, so the
// same library used for the /api/ws facade (internal/api) also drives
// the client-facing half of a spliced WebSocket connection.
type hijackShim struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header
	status int
}

func (h *hijackShim) Header() http.Header { return h.header }
func (h *hijackShim) Write(b []byte) (int, error) {
	return len(b), nil // gorilla writes the handshake directly to the hijacked conn
}
func (h *hijackShim) WriteHeader(status int) { h.status = status }
func (h *hijackShim) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(h.br, bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the client side of conn and dials the
// origin, then splices frames bidirectionally, recording each one on f
// via flow.AppendWSFrame.
func (e *Engine) handleWebSocket(conn net.Conn, req *http.Request, scheme flow.Scheme, host string, port int) {
	f := flow.New(wsScheme(scheme), req.Method, host, port, req.URL.Path, req.URL.RawQuery)
	f.IsWebSocket = true
	copyRequestHeaders(f.RequestHeaders, req.Header)

	shim := &hijackShim{conn: conn, br: bufio.NewReader(conn), header: http.Header{}}
	clientWS, err := upgrader.Upgrade(shim, req, nil)
	if err != nil {
		slog.Debug("proxy: websocket upgrade failed", "error", err)
		return
	}
	defer clientWS.Close()

	upstreamURL := fmt.Sprintf("%s://%s%s", string(wsScheme(scheme)), req.Host, req.URL.RequestURI())
	dialer := websocket.Dialer{}
	upstreamWS, _, err := dialer.Dial(upstreamURL, forwardableHeader(req.Header))
	if err != nil {
		slog.Debug("proxy: websocket upstream dial failed", "error", err)
		return
	}
	defer upstreamWS.Close()

	done := make(chan struct{}, 2)
	go spliceWS(clientWS, upstreamWS, f, "client_to_upstream", e.opts.Bus, done)
	go spliceWS(upstreamWS, clientWS, f, "upstream_to_client", e.opts.Bus, done)
	<-done
	// A close frame (or read error) on either leg ends that splice
	// goroutine; closing both connections unblocks whichever leg is still
	// reading so the second done always follows promptly.
	clientWS.Close()
	upstreamWS.Close()
	<-done
	e.finish(f)
}

func wsScheme(s flow.Scheme) flow.Scheme {
	if s == flow.SchemeHTTPS {
		return flow.SchemeWSS
	}
	return flow.SchemeWS
}

func forwardableHeader(src http.Header) http.Header {
	h := http.Header{}
	for name, values := range src {
		if hopByHopHeaders[flow.CanonicalKey(name)] {
			continue
		}
		switch flow.CanonicalKey(name) {
		case "Host", "Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Extensions":
			continue
		}
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

const maxRecordedFramePayload = 64 * 1024

// WSMessageEvent is the payload published on the "websocket_message" topic
// for every spliced WebSocket frame, as it is recorded rather than when
// the parent flow finalizes.
type WSMessageEvent struct {
	FlowID    string `json:"flow_id"`
	Direction string `json:"direction"`
	Opcode    int    `json:"opcode"`
	Truncated bool   `json:"truncated"`
}

func spliceWS(src, dst *websocket.Conn, f *flow.Flow, direction string, bus *eventbus.Bus, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			return
		}

		recorded := payload
		truncated := false
		if len(recorded) > maxRecordedFramePayload {
			recorded = recorded[:maxRecordedFramePayload]
			truncated = true
		}
		f.AppendWSFrame(flow.WSFrame{
			Timestamp: time.Now(),
			Opcode:    msgType,
			Direction: direction,
			Payload:   append([]byte(nil), recorded...),
			Truncated: truncated,
		})
		if bus != nil {
			bus.Publish("websocket_message", WSMessageEvent{
				FlowID:    f.ID.String(),
				Direction: direction,
				Opcode:    msgType,
				Truncated: truncated,
			})
		}

		if err := dst.WriteMessage(msgType, payload); err != nil {
			return
		}
	}
}
