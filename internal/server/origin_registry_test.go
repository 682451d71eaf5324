package server

import (
	"testing"

	"github.com/any-hub/cloudcache/internal/config"
)

func TestOriginRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "images", Domain: "images.local", Upstream: "https://images.example.com"},
			{Name: "thumbs", Domain: "Thumbs.Local.", Upstream: "https://thumbs.example.com"},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("images.local:5000")
	if !ok {
		t.Fatalf("expected images route")
	}
	if route.Config.Name != "images" {
		t.Errorf("wrong origin returned: %s", route.Config.Name)
	}
	if route.UpstreamURL.Host != "images.example.com" {
		t.Errorf("upstream not parsed: %v", route.UpstreamURL)
	}

	if _, ok := registry.Lookup("THUMBS.local"); !ok {
		t.Fatalf("lookup should normalize case and trailing dot")
	}
	if _, ok := registry.Lookup("unknown.local"); ok {
		t.Fatalf("unknown host should not resolve")
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes, got %d", got)
	}
}

func TestOriginRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := &config.Config{
		Origins: []config.OriginConfig{
			{Name: "a", Domain: "dup.local", Upstream: "https://a.example.com"},
			{Name: "b", Domain: "DUP.local", Upstream: "https://b.example.com"},
		},
	}
	if _, err := NewOriginRegistry(cfg); err == nil {
		t.Fatalf("duplicate domains should be rejected")
	}
}
