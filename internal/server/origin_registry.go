package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/cloudcache/internal/config"
)

// OriginRoute 将 Origin 配置与解析后的上游地址聚合在一起，供请求处理直接复用。
type OriginRoute struct {
	// Config 是 config.toml 中声明的 Origin 字段副本。
	Config config.OriginConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// UpstreamURL 在构造 Registry 时提前解析完成。
	UpstreamURL *url.URL
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询能力。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{
		routes: make(map[string]*OriginRoute, len(cfg.Origins)),
	}

	for _, origin := range cfg.Origins {
		normalizedHost := normalizeDomain(origin.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for origin %s", origin.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		upstreamURL, err := url.Parse(origin.Upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream for origin %s: %w", origin.Name, err)
		}

		route := &OriginRoute{
			Config:      origin,
			ListenPort:  cfg.Global.ListenPort,
			UpstreamURL: upstreamURL,
		}
		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回按配置顺序排列的 OriginRoute 副本，用于诊断输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
