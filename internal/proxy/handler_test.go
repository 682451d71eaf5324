package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/logging"
	"github.com/any-hub/cloudcache/internal/server"
	"github.com/any-hub/cloudcache/internal/storage/memory"
)

const testDomain = "images.cache.local"

type stubOrigin struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newStubOrigin(t *testing.T) *stubOrigin {
	t.Helper()
	stub := &stubOrigin{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "payload:"+r.URL.Path+"?"+r.URL.RawQuery)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

type testStack struct {
	app   *fiber.App
	cache *cache.Orchestrator
	store *memory.Store
}

func newTestStack(t *testing.T, upstream string, cacheCfg config.CacheConfig) *testStack {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, UpstreamTimeout: config.Duration(5 * time.Second)},
		Cache:  cacheCfg,
		Origins: []config.OriginConfig{
			{Name: "images", Domain: testDomain, Upstream: upstream},
		},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}

	logger := logging.Discard()
	store := memory.New()
	orchestrator, err := cache.New(store, cache.Options{
		MaxQueueBytes: cacheCfg.MaxQueueBytes,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("orchestrator error: %v", err)
	}

	handler := NewHandler(server.NewUpstreamClient(cfg), logger, orchestrator, cfg.Cache)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return &testStack{app: app, cache: orchestrator, store: store}
}

func (s *testStack) do(t *testing.T, method, target string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, "http://"+testDomain+target, nil)
	req.Host = testDomain
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

func syncCacheConfig() config.CacheConfig {
	return config.CacheConfig{AccessTimeout: config.Duration(2 * time.Second)}
}

func TestHandlerMissThenHit(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	resp, body := stack.do(t, http.MethodGet, "/cats/tom.png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Cloudcache-Outcome"); got != "miss" {
		t.Fatalf("expected miss, got %q", got)
	}
	if string(body) != "payload:/cats/tom.png?" {
		t.Fatalf("unexpected body %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	path := resp.Header.Get("X-Cloudcache-Path")
	if len(path) != 64+len(".png") {
		t.Fatalf("unexpected storage path %q", path)
	}

	resp, again := stack.do(t, http.MethodGet, "/cats/tom.png")
	if got := resp.Header.Get("X-Cloudcache-Outcome"); got != "hit" {
		t.Fatalf("expected hit, got %q", got)
	}
	if !bytes.Equal(body, again) {
		t.Fatalf("hit body mismatch: %q vs %q", body, again)
	}
	if origin.hits.Load() != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", origin.hits.Load())
	}
	if stack.store.Len() != 1 {
		t.Fatalf("expected one stored object, got %d", stack.store.Len())
	}
}

func TestHandlerQueryOrderSharesEntry(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	first, _ := stack.do(t, http.MethodGet, "/thumb.jpg?w=10&h=20")
	second, _ := stack.do(t, http.MethodGet, "/thumb.jpg?h=20&w=10")
	if first.Header.Get("X-Cloudcache-Path") != second.Header.Get("X-Cloudcache-Path") {
		t.Fatalf("query order should map to the same object")
	}
	if second.Header.Get("X-Cloudcache-Outcome") != "hit" {
		t.Fatalf("expected hit for reordered query")
	}
	if origin.hits.Load() != 1 {
		t.Fatalf("expected one upstream fetch, got %d", origin.hits.Load())
	}
}

func TestHandlerUpstreamErrorReturns502(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	resp, body := stack.do(t, http.MethodGet, "/missing.png")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("upstream_failed")) {
		t.Fatalf("unexpected body %s", body)
	}
	if stack.store.Len() != 0 {
		t.Fatalf("failed fetch must not leave an object behind")
	}
}

func TestHandlerRejectsUnsupportedMethod(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	resp, _ := stack.do(t, http.MethodPost, "/cats/tom.png")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if origin.hits.Load() != 0 {
		t.Fatalf("upstream should not be contacted")
	}
}

func TestHandlerHeadPopulatesCache(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	resp, body := stack.do(t, http.MethodHead, "/doc.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Fatalf("HEAD should not carry a body")
	}
	resp, _ = stack.do(t, http.MethodGet, "/doc.json")
	if resp.Header.Get("X-Cloudcache-Outcome") != "hit" {
		t.Fatalf("expected GET after HEAD to hit")
	}
}

func TestHandlerAsyncServesBufferedBody(t *testing.T) {
	origin := newStubOrigin(t)
	cfg := syncCacheConfig()
	cfg.Async = true
	cfg.MaxQueueBytes = 1 << 20
	stack := newTestStack(t, origin.server.URL, cfg)

	resp, body := stack.do(t, http.MethodGet, "/async.css")
	if resp.Header.Get("X-Cloudcache-Outcome") != "miss" {
		t.Fatalf("expected miss, got %q", resp.Header.Get("X-Cloudcache-Outcome"))
	}
	if string(body) != "payload:/async.css?" {
		t.Fatalf("unexpected body %q", body)
	}

	stack.cache.Close()
	if stack.store.Len() != 1 {
		t.Fatalf("background flush should persist the object")
	}

	resp, again := stack.do(t, http.MethodGet, "/async.css")
	if resp.Header.Get("X-Cloudcache-Outcome") != "hit" {
		t.Fatalf("expected hit after flush")
	}
	if !bytes.Equal(body, again) {
		t.Fatalf("body mismatch after flush")
	}
}

func TestHandlerForgetsOnlyTheMissingObject(t *testing.T) {
	origin := newStubOrigin(t)
	stack := newTestStack(t, origin.server.URL, syncCacheConfig())

	stack.do(t, http.MethodGet, "/kept.png")
	resp, _ := stack.do(t, http.MethodGet, "/gone.png")
	path := resp.Header.Get("X-Cloudcache-Path")
	if err := stack.store.Delete(t.Context(), path); err != nil {
		t.Fatalf("delete: %v", err)
	}

	resp, _ = stack.do(t, http.MethodGet, "/gone.png")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for stale index, got %d", resp.StatusCode)
	}
	if got := stack.cache.Stats().IndexEntries; got != 1 {
		t.Fatalf("only the missing object should leave the index, %d entries left", got)
	}

	resp, body := stack.do(t, http.MethodGet, "/gone.png")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Cloudcache-Outcome") != "miss" {
		t.Fatalf("expected refetch after forgetting, got %d %q", resp.StatusCode, resp.Header.Get("X-Cloudcache-Outcome"))
	}
	if string(body) != "payload:/gone.png?" {
		t.Fatalf("unexpected body %q", body)
	}

	before := origin.hits.Load()
	resp, _ = stack.do(t, http.MethodGet, "/kept.png")
	if resp.Header.Get("X-Cloudcache-Outcome") != "hit" || origin.hits.Load() != before {
		t.Fatalf("untouched object should still be served from cache")
	}
}

func TestUpstreamStatusErrorMatchesSentinel(t *testing.T) {
	var err error = &UpstreamStatusError{URL: "https://x", StatusCode: 500}
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Fatalf("expected ErrUpstreamStatus match")
	}
}
