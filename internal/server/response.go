package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/cloudcache/internal/cache"
)

// 响应头名称。
const (
	HeaderRequestID = "X-Request-ID"
	HeaderOutcome   = "X-Cloudcache-Outcome"
	HeaderPath      = "X-Cloudcache-Path"
	HeaderUpstream  = "X-Cloudcache-Upstream"
	HeaderHost      = "X-Cloudcache-Host"
)

// SetCacheHeaders 写出一次缓存访问的结果类别、对象名与回源地址。
func SetCacheHeaders(c fiber.Ctx, res cache.Result, upstream string) {
	c.Set(HeaderOutcome, res.Outcome.String())
	if res.Path != "" {
		c.Set(HeaderPath, res.Path)
	}
	if upstream != "" {
		c.Set(HeaderUpstream, upstream)
	}
}

// WriteError 输出统一的错误体，附带请求 ID 方便与日志对照。
func WriteError(c fiber.Ctx, status int, code string) error {
	body := fiber.Map{"error": code}
	if reqID := RequestID(c); reqID != "" {
		body["request_id"] = reqID
	}
	return c.Status(status).JSON(body)
}
