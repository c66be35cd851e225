package proxyengine

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/webintercept/proxycore/internal/flow"
)

// handleConnect answers a CONNECT request and either MITM's the tunnel
// (minting a leaf certificate for the requested host and decoding the
// traffic inside) or, if the client's TLS handshake can't be completed
// against our leaf cert, falls back to a raw byte-for-byte tunnel so
// the connection still works, just unobserved. Grounded on
// denisvmedia/go-mitmproxy's HTTPSDial: answer 200, take over the raw
// connection, and mint the leaf cert from the ClientHello's SNI before
// completing the server-side handshake.
func (e *Engine) handleConnect(conn net.Conn, br *bufio.Reader, req *http.Request) {
	host, port := splitHostPort(req.Host, flow.SchemeHTTPS)

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		slog.Debug("proxy: writing CONNECT response", "error", err)
		return
	}

	// Drain anything already buffered by br (pipelined bytes read ahead
	// of the CONNECT response) before handing the raw conn to tls.Server.
	peeked, _ := br.Peek(br.Buffered())
	clientConn := net.Conn(conn)
	if len(peeked) > 0 {
		clientConn = &prefixedConn{Conn: conn, prefix: append([]byte(nil), peeked...)}
	}

	leaf, err := e.opts.CA.LeafFor(host)
	if err != nil {
		slog.Warn("proxy: minting leaf certificate failed, falling back to passthrough", "host", host, "error", err)
		e.passthroughTunnel(clientConn, host, port)
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
	})
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("proxy: MITM TLS handshake failed, falling back to passthrough", "host", host, "error", err)
		e.passthroughTunnel(clientConn, host, port)
		return
	}

	e.serveLoop(tlsConn, flow.SchemeHTTPS)
}

// passthroughTunnel relays raw bytes between the client and the
// requested origin without decoding TLS, the fallback path for hosts
// whose clients reject our MITM certificate (certificate pinning) or
// where minting failed.
func (e *Engine) passthroughTunnel(client net.Conn, host string, port int) {
	upstream, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		slog.Debug("proxy: passthrough dial failed", "host", host, "error", err)
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go copyAndSignal(upstream, client, done)
	go copyAndSignal(client, upstream, done)
	<-done
}

func copyAndSignal(dst, src net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// prefixedConn replays a pre-read byte prefix before falling through to
// the underlying conn's own Read, so bytes already pulled into a
// bufio.Reader aren't lost when the raw net.Conn is handed to tls.Server.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}
