package proxy

import (
	"net/url"
	"testing"

	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/server"
)

func TestBuildKeyBasisSortsQuery(t *testing.T) {
	a := buildKeyBasis("images", "/a/b.png", "w=10&h=20")
	b := buildKeyBasis("images", "/a/b.png", "h=20&w=10")
	if a != b {
		t.Fatalf("query order should not change key basis: %q vs %q", a, b)
	}
	if a != "images/a/b.png?h=20&w=10" {
		t.Fatalf("unexpected key basis %q", a)
	}
	if got := buildKeyBasis("images", "/a/b.png", ""); got != "images/a/b.png" {
		t.Fatalf("empty query should not add marker, got %q", got)
	}
	if buildKeyBasis("thumbs", "/a/b.png", "") == buildKeyBasis("images", "/a/b.png", "") {
		t.Fatalf("origin name must be part of the key basis")
	}
}

func TestExtensionFor(t *testing.T) {
	withDefault := &server.OriginRoute{Config: config.OriginConfig{Extension: ".dat"}}
	cases := []struct {
		name  string
		route *server.OriginRoute
		path  string
		want  string
	}{
		{name: "from path", path: "/img/cat.PNG", want: "png"},
		{name: "no extension", path: "/img/cat", want: "bin"},
		{name: "origin default", route: withDefault, path: "/img/cat", want: "dat"},
		{name: "unsafe characters", path: "/img/cat.p-n_g", want: "bin"},
		{name: "root", path: "/", want: "bin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extensionFor(tc.route, tc.path); got != tc.want {
				t.Fatalf("extensionFor(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestResolveUpstreamURL(t *testing.T) {
	base, _ := url.Parse("https://origin.example.com/mirror")
	got := resolveUpstreamURL(base, "/a/b.png", "w=10")
	if got.String() != "https://origin.example.com/mirror/a/b.png?w=10" {
		t.Fatalf("unexpected upstream url %s", got)
	}

	root, _ := url.Parse("https://origin.example.com")
	if got := resolveUpstreamURL(root, "/x.js", ""); got.String() != "https://origin.example.com/x.js" {
		t.Fatalf("unexpected upstream url %s", got)
	}
}

func TestNormalizeRequestPath(t *testing.T) {
	if got := normalizeRequestPath("/a/../b//c.png"); got != "/b/c.png" {
		t.Fatalf("unexpected clean path %q", got)
	}
	if got := normalizeRequestPath(""); got != "/" {
		t.Fatalf("empty path should map to root, got %q", got)
	}
}
