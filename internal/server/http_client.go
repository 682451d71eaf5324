package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/any-hub/cloudcache/internal/config"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	maxUpstreamRedirects   = 5
)

// NewUpstreamClient 构建生产者回源使用的 http.Client。
//
// 生产者在持有对象写锁时运行，所以等待响应头的时间不超过 Cache.AccessTimeout：
// 排在后面的请求最多等这么久，源站更慢时宁可让本次回源失败。
// 整体读取正文仍受 UpstreamTimeout 约束。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	headerTimeout := time.Duration(0)
	idlePerHost := 16
	if cfg != nil {
		if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		headerTimeout = cfg.Cache.AccessTimeout.DurationValue()
		if n := len(cfg.Origins) * 4; n > idlePerHost {
			idlePerHost = n
		}
	}
	if headerTimeout <= 0 || headerTimeout > timeout {
		headerTimeout = timeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkUpstreamRedirect,
	}
}

var errRedirectScheme = errors.New("redirect leaves http(s)")

// checkUpstreamRedirect 限制跳转次数，并拒绝跳出 http/https 的地址，
// 避免把非源站内容写进缓存。
func checkUpstreamRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxUpstreamRedirects {
		return fmt.Errorf("stopped after %d redirects", maxUpstreamRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", errRedirectScheme, req.URL.Redacted())
	}
	return nil
}
