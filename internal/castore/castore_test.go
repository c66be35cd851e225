package castore

import (
	"crypto/tls"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "ca.pem"), filepath.Join(dir, "ca-key.pem"), 7, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestLoad_GeneratesRootOnFirstRun(t *testing.T) {
	s := newTestStore(t)
	if len(s.RootPEM()) == 0 {
		t.Fatal("expected non-empty root PEM")
	}
}

func TestLoad_ReusesPersistedRoot(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.pem")
	keyPath := filepath.Join(dir, "ca-key.pem")

	s1, err := Load(certPath, keyPath, 7, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s2, err := Load(certPath, keyPath, 7, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(s1.RootPEM()) != string(s2.RootPEM()) {
		t.Fatal("expected second load to reuse the persisted root CA")
	}
}

func TestLeafFor_CachesByHost(t *testing.T) {
	s := newTestStore(t)
	c1, err := s.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	c2, err := s.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected cached leaf certificate to be reused")
	}
}

func TestLeafFor_ConcurrentMintsCoalesce(t *testing.T) {
	s := newTestStore(t)
	const n = 20
	certs := make([]*tls.Certificate, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.LeafFor("concurrent.example")
			if err != nil {
				t.Errorf("LeafFor: %v", err)
				return
			}
			certs[i] = c
		}(i)
	}
	wg.Wait()

	first := certs[0]
	for _, c := range certs {
		if c != first {
			t.Fatal("expected every concurrent mint for the same host to return the same certificate")
		}
	}
}

func TestLeafFor_EvictsLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t) // cache size 4
	hosts := []string{"a.example", "b.example", "c.example", "d.example", "e.example"}
	for _, h := range hosts {
		if _, err := s.LeafFor(h); err != nil {
			t.Fatalf("LeafFor(%s): %v", h, err)
		}
	}
	if s.CacheSize() > 4 {
		t.Fatalf("expected cache to stay at or below capacity, got %d", s.CacheSize())
	}
}
