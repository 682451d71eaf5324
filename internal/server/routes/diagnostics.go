// Package routes registers the "/-" diagnostics endpoints.
package routes

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/server"
	"github.com/any-hub/cloudcache/internal/storage"
)

// Admin 由缓存编排器实现，路由层只依赖该最小接口。
type Admin interface {
	Stats() cache.Stats
	Purge(ctx context.Context, path string, timeout time.Duration) error
	ClearIndex()
}

// Diagnostics 返回挂载在 /- 下的诊断路由：
//   - GET    /-/stats          索引、写队列与源站绑定情况
//   - DELETE /-/objects/:path  删除单个缓存对象及其索引条目
//   - DELETE /-/index          清空本地索引，之后的请求重新向存储确认
func Diagnostics(admin Admin, registry *server.OriginRegistry, purgeTimeout time.Duration) server.DiagnosticsRoutes {
	return func(r fiber.Router) {
		if admin == nil {
			return
		}

		r.Get("/stats", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"cache":   admin.Stats(),
				"origins": encodeOrigins(registry.List()),
			})
		})

		r.Delete("/index", func(c fiber.Ctx) error {
			admin.ClearIndex()
			return c.SendStatus(fiber.StatusNoContent)
		})

		r.Delete("/objects/:path", func(c fiber.Ctx) error {
			path := c.Params("path")
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			err := admin.Purge(ctx, path, purgeTimeout)
			switch {
			case err == nil:
				return c.SendStatus(fiber.StatusNoContent)
			case errors.Is(err, storage.ErrInvalidPath):
				return server.WriteError(c, fiber.StatusBadRequest, "invalid_path")
			case errors.Is(err, cache.ErrPurgeBusy):
				return server.WriteError(c, fiber.StatusConflict, "object_busy")
			default:
				return err
			}
		})
	}
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Port     int    `json:"port"`
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.Config.Upstream,
			Port:     route.ListenPort,
		})
	}
	return result
}
