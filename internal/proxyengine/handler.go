package proxyengine

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/webintercept/proxycore/internal/flow"
)

// serveLoop reads successive HTTP/1.1 requests off conn and dispatches
// each one, honoring keep-alive until the client closes the connection,
// a non-recoverable parse error occurs, or a CONNECT hands the
// connection off to the MITM path (which never returns to this loop).
func (e *Engine) serveLoop(conn net.Conn, scheme flow.Scheme) {
	br := bufio.NewReader(conn)

	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			if err != io.EOF {
				slog.Debug("proxy: reading request", "error", err)
			}
			return
		}

		if req.Method == http.MethodConnect {
			e.handleConnect(conn, br, req)
			return
		}

		keepAlive := e.handleForward(conn, req, scheme)
		if !keepAlive {
			return
		}
	}
}

// handleForward processes one absolute-form (or already-TLS-terminated
// MITM'd) request and writes the response back to conn. It returns
// whether the connection should stay open for another request.
func (e *Engine) handleForward(conn net.Conn, req *http.Request, scheme flow.Scheme) bool {
	host, port := splitHostPort(req.Host, scheme)

	if isWebSocketUpgrade(req) {
		e.handleWebSocket(conn, req, scheme, host, port)
		return false
	}

	f := flow.New(scheme, req.Method, host, port, req.URL.Path, req.URL.RawQuery)
	copyRequestHeaders(f.RequestHeaders, req.Header)

	resp, err := e.runPipeline(req.Context(), f, req)
	if err != nil {
		writeErrorResponse(conn, req, err)
		return false
	}
	defer resp.Body.Close()

	keepAlive := shouldKeepAlive(req, resp)
	if !keepAlive {
		resp.Close = true
	}
	if err := resp.Write(conn); err != nil {
		slog.Debug("proxy: writing response", "error", err)
		return false
	}
	return keepAlive
}

func splitHostPort(hostHeader string, scheme flow.Scheme) (string, int) {
	host, portStr, err := net.SplitHostPort(hostHeader)
	if err != nil {
		host = hostHeader
		if scheme == flow.SchemeHTTPS || scheme == flow.SchemeWSS {
			return host, 443
		}
		return host, 80
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 80
	}
	return host, port
}

func copyRequestHeaders(dst *flow.Header, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Connection"), "Upgrade") &&
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func shouldKeepAlive(req *http.Request, resp *http.Response) bool {
	if strings.EqualFold(req.Header.Get("Connection"), "close") {
		return false
	}
	if strings.EqualFold(resp.Header.Get("Connection"), "close") {
		return false
	}
	return req.ProtoAtLeast(1, 1)
}

func writeErrorResponse(conn net.Conn, req *http.Request, err error) {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader("proxy error: " + err.Error())),
		Request:    req,
		Close:      true,
	}
	resp.Write(conn)
}
