package spider

import "testing"

func TestScopeAdmit(t *testing.T) {
	scope, err := NewScope("example.com", 1, false, nil, []string{`/admin`}, false, nil)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}

	cases := []struct {
		name   string
		url    string
		depth  int
		admit  bool
	}{
		{"in scope", "http://example.com/x", 1, true},
		{"depth exceeds max", "http://example.com/x", 2, false},
		{"external host rejected", "http://other.test/x", 0, false},
		{"excluded path", "http://example.com/admin/panel", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := scope.Admit(tc.url, tc.depth, "proxycore-spider/1.0")
			if got != tc.admit {
				t.Errorf("Admit(%q, depth=%d) = %v, want %v", tc.url, tc.depth, got, tc.admit)
			}
		})
	}
}

func TestScopeFollowExternalLinks(t *testing.T) {
	scope, err := NewScope("example.com", 1, true, nil, nil, false, nil)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	if admit, reason := scope.Admit("http://other.test/x", 0, "ua"); !admit {
		t.Errorf("external link should be admitted when follow_external_links is set, got reason %q", reason)
	}
}

func TestScopeIncludePatterns(t *testing.T) {
	scope, err := NewScope("example.com", 5, false, []string{`/blog/`}, nil, false, nil)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	if admit, _ := scope.Admit("http://example.com/blog/post-1", 0, "ua"); !admit {
		t.Error("URL matching include pattern should be admitted")
	}
	if admit, reason := scope.Admit("http://example.com/other", 0, "ua"); admit {
		t.Errorf("URL not matching any include pattern should be rejected, got reason %q", reason)
	}
}
