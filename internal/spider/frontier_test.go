package spider

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "http://EXAMPLE.com/path", "http://example.com/path"},
		{"strips default http port", "http://example.com:80/path", "http://example.com/path"},
		{"strips default https port", "https://example.com:443/path", "https://example.com/path"},
		{"keeps non-default port", "http://example.com:8080/path", "http://example.com:8080/path"},
		{"drops fragment", "http://example.com/path#section", "http://example.com/path"},
		{"sorts query keys", "http://example.com/path?b=2&a=1", "http://example.com/path?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			if err != nil {
				t.Fatalf("Canonicalize(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFrontierDedup(t *testing.T) {
	f := NewFrontier()
	if !f.Offer("http://example.com/a", 0, "") {
		t.Fatal("first offer of a fresh URL should be admitted")
	}
	if f.Offer("http://EXAMPLE.com/a", 0, "") {
		t.Error("a canonically-equal URL should be deduplicated")
	}
	if f.Len() != 1 {
		t.Errorf("frontier length = %d, want 1", f.Len())
	}
}

func TestFrontierDepthThenDiscoveryOrder(t *testing.T) {
	f := NewFrontier()
	f.Offer("http://example.com/depth1-a", 1, "")
	f.Offer("http://example.com/depth0", 0, "")
	f.Offer("http://example.com/depth1-b", 1, "")

	item, ok := f.Pop()
	if !ok || item.url != "http://example.com/depth0" {
		t.Fatalf("expected depth-0 URL first, got %+v", item)
	}

	item, ok = f.Pop()
	if !ok || item.url != "http://example.com/depth1-a" {
		t.Fatalf("expected depth1-a (earlier discovery order) next, got %+v", item)
	}

	item, ok = f.Pop()
	if !ok || item.url != "http://example.com/depth1-b" {
		t.Fatalf("expected depth1-b last, got %+v", item)
	}

	if _, ok := f.Pop(); ok {
		t.Error("frontier should be empty")
	}
}
