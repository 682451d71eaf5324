package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/logging"
)

// fixtureDir 指向 internal/config/testdata；本文件位于模块根目录。
func fixtureDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位测试文件")
	}
	return filepath.Join(filepath.Dir(file), "internal", "config", "testdata")
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(fixtureDir(t), name)
}

// writeConfigFile 把 content 写入临时目录下的 config.toml。
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

func loadConfigFile(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfigFile(t, content))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

// stubUpstream 是记录命中次数的源站，响应体为 "origin:<path>"。
type stubUpstream struct {
	server *httptest.Server
	hits   atomic.Int64
}

func newStubUpstream(t *testing.T) *stubUpstream {
	t.Helper()
	up := &stubUpstream{}
	up.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.hits.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "origin:"+r.URL.Path)
	}))
	t.Cleanup(up.server.Close)
	return up
}

// cacheStack 是 buildApp 组装出的完整链路：内存存储 + 同步写入的编排器 + Fiber 应用。
type cacheStack struct {
	app          *fiber.App
	orchestrator *cache.Orchestrator
	upstream     *stubUpstream
}

const stackDomain = "assets.local"

func newCacheStack(t *testing.T) *cacheStack {
	t.Helper()
	upstream := newStubUpstream(t)
	cfg := loadConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
LogLevel = "warn"

[Cache]
Async = false
AccessTimeout = "2s"
RacePollInterval = "10ms"

[Storage]
Backend = "memory"

[[Origin]]
Name = "assets"
Domain = "%s"
Upstream = "%s"
Extension = "bin"
`, stackDomain, upstream.server.URL))

	app, orchestrator, err := buildApp(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("组装服务失败: %v", err)
	}
	t.Cleanup(orchestrator.Close)
	return &cacheStack{app: app, orchestrator: orchestrator, upstream: upstream}
}

// do 以 stackDomain 作为 Host 发起请求，返回响应与完整响应体。
func (s *cacheStack) do(t *testing.T, method, target string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, "http://"+stackDomain+target, nil)
	req.Host = stackDomain
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s 失败: %v", method, target, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, string(body)
}

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}
