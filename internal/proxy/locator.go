package proxy

import (
	"net/url"
	"path"
	"strings"

	"github.com/any-hub/cloudcache/internal/server"
)

const defaultExtension = "bin"

// buildKeyBasis 组合源站名、规范化路径与排序后的查询串，保证同一资源得到同一缓存键。
func buildKeyBasis(origin, clean, rawQuery string) string {
	basis := origin + clean
	if query := canonicalQuery(rawQuery); query != "" {
		basis += "?" + query
	}
	return basis
}

// canonicalQuery 按键排序查询参数；无法解析时保留原串。
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	return values.Encode()
}

// extensionFor 从请求路径推断对象扩展名，回退到源站配置或 bin。
func extensionFor(route *server.OriginRoute, clean string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(clean), "."))
	if isSafeExtension(ext) {
		return ext
	}
	if route != nil {
		if configured := strings.ToLower(strings.TrimPrefix(route.Config.Extension, ".")); isSafeExtension(configured) {
			return configured
		}
	}
	return defaultExtension
}

func isSafeExtension(ext string) bool {
	if ext == "" || len(ext) > 16 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func resolveUpstreamURL(base *url.URL, clean, rawQuery string) *url.URL {
	relative := &url.URL{Path: strings.TrimPrefix(clean, "/")}
	if rawQuery != "" {
		relative.RawQuery = rawQuery
	}
	if base == nil {
		return relative
	}
	if !strings.HasSuffix(base.Path, "/") {
		copied := *base
		copied.Path += "/"
		base = &copied
	}
	return base.ResolveReference(relative)
}
