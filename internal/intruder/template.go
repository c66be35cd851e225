package intruder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// Render substitutes the payloads in a into raw's positions and parses
// the result as a raw HTTP/1.1 request, the way the teacher's template
// text is always a complete, editable unit rather than separate
// method/url/header/body fields. scheme supplies the origin scheme when
// the rendered request line is in origin-form (no absolute URL), which
// is the common case for requests captured off the wire.
func Render(raw []byte, positions []Position, a Assignment, scheme string) (*http.Request, []byte, error) {
	rendered := substitute(raw, positions, a.Payloads)

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(rendered)))
	if err != nil {
		return nil, rendered, fmt.Errorf("parsing rendered request %d: %w", a.Index, err)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, rendered, fmt.Errorf("reading rendered body %d: %w", a.Index, err)
	}
	req.Body.Close()

	absURL := req.URL
	if !absURL.IsAbs() {
		host := req.Host
		if host == "" {
			host = req.Header.Get("Host")
		}
		absURL.Scheme = scheme
		absURL.Host = host
	}

	out, err := http.NewRequest(req.Method, absURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, rendered, fmt.Errorf("building request %d: %w", a.Index, err)
	}
	out.Header = req.Header
	out.ContentLength = int64(len(body))
	return out, rendered, nil
}

// substitute applies the non-nil payloads in order of decreasing start
// offset, so an earlier edit never invalidates a later position's
// recorded offsets.
func substitute(raw []byte, positions []Position, payloads []*string) []byte {
	type edit struct {
		start, end int
		value      []byte
	}
	var edits []edit
	for i, p := range positions {
		if i >= len(payloads) || payloads[i] == nil {
			continue
		}
		edits = append(edits, edit{p.Start, p.End, []byte(*payloads[i])})
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })

	out := append([]byte(nil), raw...)
	for _, e := range edits {
		if e.start < 0 || e.end > len(out) || e.start > e.end {
			continue
		}
		var buf bytes.Buffer
		buf.Write(out[:e.start])
		buf.Write(e.value)
		buf.Write(out[e.end:])
		out = buf.Bytes()
	}
	return out
}
