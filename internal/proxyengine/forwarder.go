package proxyengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/webintercept/proxycore/internal/flow"
)

// hopByHopHeaders are stripped before forwarding in either direction,
// the same set the teacher's internal/proxy/forwarder.go strips.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// buildUpstreamRequest constructs the request actually sent to the
// origin from a Flow, honoring any header/body mutation the rule engine
// or intercept coordinator applied to f.RequestHeaders/f.RequestBody.
func buildUpstreamRequest(ctx context.Context, f *flow.Flow) (*http.Request, error) {
	url := f.URL()
	req, err := http.NewRequestWithContext(ctx, f.Method, url, bytes.NewReader(f.RequestBody))
	if err != nil {
		return nil, fmt.Errorf("building upstream request for %s: %w", url, err)
	}

	f.RequestHeaders.Each(func(name, value string) {
		if hopByHopHeaders[flow.CanonicalKey(name)] {
			return
		}
		if flow.CanonicalKey(name) == "Host" {
			return
		}
		req.Header.Add(name, value)
	})
	req.ContentLength = int64(len(f.RequestBody))
	req.Host = f.Host

	return req, nil
}

// copyResponseHeaders copies src into dst skipping hop-by-hop headers.
func copyResponseHeaders(dst *flow.Header, src http.Header) {
	for name, values := range src {
		if hopByHopHeaders[flow.CanonicalKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// readCapped reads up to cap bytes from r and reports how many
// additional bytes existed beyond the cap (0 if the body fit).
func readCapped(r io.Reader, cap int64) ([]byte, int64, error) {
	limited := io.LimitReader(r, cap)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(body)) < cap {
		return body, 0, nil
	}
	// Body may be larger than cap; drain the rest to count it without
	// holding it in memory, then report the overage.
	overageCounter := &countingWriter{}
	n, _ := io.Copy(overageCounter, r)
	return body, n, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
