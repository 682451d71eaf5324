package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DiagnosticsPrefix is reserved on every Host; requests under it never reach an origin.
const DiagnosticsPrefix = "/-"

// CacheHandler serves a request for a resolved origin, usually by going
// through the cache orchestrator. Tests inject fakes through this interface.
type CacheHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// CacheHandlerFunc adapts a function to the CacheHandler interface.
type CacheHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes CacheHandlerFunc satisfy CacheHandler.
func (f CacheHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// DiagnosticsRoutes registers handlers on the router mounted at DiagnosticsPrefix.
type DiagnosticsRoutes func(fiber.Router)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger      *logrus.Logger
	Registry    *OriginRegistry
	Handler     CacheHandler
	ListenPort  int
	Diagnostics []DiagnosticsRoutes
}

const localsRequestID = "cloudcache.request_id"

// NewApp 组装 Fiber 应用：诊断路由挂在 DiagnosticsPrefix 下且不做 Host 解析，
// 其余请求按 Host 选择源站后交给 CacheHandler。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("origin registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("cache handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	diagnostics := app.Group(DiagnosticsPrefix)
	for _, register := range opts.Diagnostics {
		if register != nil {
			register(diagnostics)
		}
	}
	diagnostics.All("/*", func(c fiber.Ctx) error {
		return WriteError(c, fiber.StatusNotFound, "diagnostics_not_found")
	})

	app.All("/*", originHandler(opts))
	return app, nil
}

// originHandler 把 Host 解析为 OriginRoute；未映射的 Host 直接返回 404，不会触达缓存。
func originHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		host := strings.TrimSpace(hostHeader(c))
		route, ok := opts.Registry.Lookup(host)
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "host_lookup",
				"host":       host,
				"port":       opts.ListenPort,
				"request_id": RequestID(c),
			}).Warn("host unmapped")
			if host != "" {
				c.Set(HeaderHost, host)
			}
			return WriteError(c, fiber.StatusNotFound, "host_unmapped")
		}
		return opts.Handler.Handle(c, route)
	}
}

// requestIDMiddleware 沿用调用方传入的合法 UUID，否则生成新的请求 ID；
// 同一个 ID 会回写到响应头并随源站请求转发。
func requestIDMiddleware(c fiber.Ctx) error {
	reqID := strings.TrimSpace(c.Get(HeaderRequestID))
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	c.Locals(localsRequestID, reqID)
	c.Set(HeaderRequestID, reqID)
	return c.Next()
}

// errorHandler 把未处理的错误统一渲染为 {"error": ...} JSON，5xx 会记录日志。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = statusCode(status)
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http_error",
				"path":       c.Path(),
				"status":     status,
				"request_id": RequestID(c),
			}).WithError(err).Error("request failed")
		}
		return WriteError(c, status, code)
	}
}

// statusCode 把 HTTP 状态转换为 snake_case 错误码，如 405 → method_not_allowed。
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RequestID returns the identifier assigned by the request-id middleware.
func RequestID(c fiber.Ctx) string {
	if reqID, ok := c.Locals(localsRequestID).(string); ok {
		return reqID
	}
	return ""
}
