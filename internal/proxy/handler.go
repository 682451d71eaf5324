package proxy

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/logging"
	"github.com/any-hub/cloudcache/internal/server"
	"github.com/any-hub/cloudcache/internal/storage"
)

const defaultContentType = "application/octet-stream"

// Handler 负责 “缓存查找 → 回源生产 → 写入对象存储 → 回写响应” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与缓存编排器。
type Handler struct {
	client  *http.Client
	logger  *logrus.Logger
	cache   *cache.Orchestrator
	timeout time.Duration
	async   bool
}

// NewHandler constructs a cache handler with shared HTTP client/logger/orchestrator.
func NewHandler(client *http.Client, logger *logrus.Logger, orchestrator *cache.Orchestrator, cfg config.CacheConfig) *Handler {
	return &Handler{
		client:  client,
		logger:  logger,
		cache:   orchestrator,
		timeout: cfg.AccessTimeout.DurationValue(),
		async:   cfg.Async,
	}
}

// Handle 实现 server.CacheHandler：计算缓存键、调用编排器并输出正文，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		c.Set(fiber.HeaderAllow, "GET, HEAD")
		return server.WriteError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	uri := c.Request().URI()
	rawQuery := string(uri.QueryString())
	clean := normalizeRequestPath(string(uri.Path()))
	upstream := resolveUpstreamURL(route.UpstreamURL, clean, rawQuery)
	ext := extensionFor(route, clean)

	res, err := h.cache.GetCachedFile(ctx, cache.Request{
		KeyBasis:  buildKeyBasis(route.Config.Name, clean, rawQuery),
		Extension: ext,
		Produce:   h.fetchProducer(ctx, upstream, requestID),
		Timeout:   h.timeout,
		Async:     h.async,
	})

	server.SetCacheHeaders(c, res, upstream.Redacted())

	switch {
	case errors.Is(err, cache.ErrRemoteRace):
		h.logResult(route, upstream, requestID, res, fiber.StatusServiceUnavailable, started, err)
		return server.WriteError(c, fiber.StatusServiceUnavailable, "remote_race")
	case err != nil:
		status := fiber.StatusBadGateway
		h.logResult(route, upstream, requestID, res, status, started, err)
		return server.WriteError(c, status, "upstream_failed")
	case res.Outcome == cache.OutcomeFailed:
		h.logResult(route, upstream, requestID, res, fiber.StatusServiceUnavailable, started, nil)
		return server.WriteError(c, fiber.StatusServiceUnavailable, "cache_busy")
	}

	return h.serve(ctx, c, route, upstream, requestID, res, ext, started)
}

func (h *Handler) serve(
	ctx context.Context,
	c fiber.Ctx,
	route *server.OriginRoute,
	upstream *url.URL,
	requestID string,
	res cache.Result,
	ext string,
	started time.Time,
) error {
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = defaultContentType
	}
	c.Set(fiber.HeaderContentType, contentType)

	if c.Method() == http.MethodHead {
		c.Status(fiber.StatusOK)
		h.logResult(route, upstream, requestID, res, fiber.StatusOK, started, nil)
		return nil
	}

	reader, err := h.cache.Open(ctx, res)
	if err != nil {
		// 对象被外部删除：只丢弃这一条索引，下次请求会重新回源。
		if errors.Is(err, storage.ErrNotFound) {
			h.cache.Forget(res.Path)
		}
		h.logResult(route, upstream, requestID, res, fiber.StatusServiceUnavailable, started, err)
		return server.WriteError(c, fiber.StatusServiceUnavailable, "cache_read_failed")
	}
	defer reader.Close()

	c.Status(fiber.StatusOK)
	_, err = io.Copy(c.Response().BodyWriter(), reader)
	h.logResult(route, upstream, requestID, res, fiber.StatusOK, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "read cache failed: "+err.Error())
	}
	return nil
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	upstream *url.URL,
	requestID string,
	res cache.Result,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, requestID)
	fields["action"] = "cache_request"
	fields["upstream"] = upstream.Redacted()
	fields["path"] = res.Path
	fields["outcome"] = res.Outcome.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("cache_request_failed")
		return
	}
	h.logger.WithFields(fields).Info("cache_request_complete")
}
