// Package upstream builds the pooled HTTP/1.1 client the proxy engine
// uses to reach origin servers, grounded directly on the teacher's
// cmd/ctrlai/main.go runStart transport tuning: generous idle-connection
// pooling, no client-level timeout because response bodies may stream
// for a long time, and ForceAttemptHTTP2 left off since the proxy's
// client-facing side is HTTP/1.1 plus upgraded WebSocket only.
package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Options configures the upstream client.
type Options struct {
	// DialTimeout bounds establishing the TCP connection to the origin.
	DialTimeout time.Duration
	// TLSHandshakeTimeout bounds the TLS handshake with the origin.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout bounds how long a pooled connection may sit idle.
	IdleConnTimeout time.Duration
	// MaxIdleConns and MaxIdleConnsPerHost size the connection pool.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// InsecureSkipVerify disables upstream certificate verification,
	// for intercepting traffic to origins with self-signed certs during
	// testing. Off by default.
	InsecureSkipVerify bool
}

// DefaultOptions mirrors the teacher's runStart tuning.
func DefaultOptions() Options {
	return Options{
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     120 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
}

// New builds an *http.Client tuned for proxying: redirects are not
// followed (the proxy forwards exactly one request and relays exactly
// one response; following a 3xx itself would silently change what was
// recorded), compression is left to the origin and the client so the
// proxy can record bodies as transmitted, and there is no client-level
// Timeout because a streamed response body can legitimately take
// minutes.
func New(opts Options) *http.Client {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
