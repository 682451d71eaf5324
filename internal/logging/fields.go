package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cloudcache/internal/cache"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 origin/domain/请求 ID 字段，供 HTTP 请求日志复用。
func RequestFields(origin, domain, requestID string) logrus.Fields {
	return logrus.Fields{
		"origin":     origin,
		"domain":     domain,
		"request_id": requestID,
	}
}

// OutcomeFields 将一次缓存访问事件展开为日志字段。
func OutcomeFields(e cache.Event) logrus.Fields {
	fields := logrus.Fields{
		"action":      "cache_access",
		"path":        e.Path,
		"outcome":     e.Outcome.String(),
		"cache_hit":   e.Outcome == cache.OutcomeHit,
		"async":       e.Async,
		"duration_ms": e.Duration.Milliseconds(),
	}
	if e.QueueRejected {
		fields["queue_rejected"] = true
	}
	if e.Coalesced {
		fields["coalesced"] = true
	}
	return fields
}

// OutcomeObserver 返回一个把每次缓存访问写成一行结构化日志的观察者。
func OutcomeObserver(logger logrus.FieldLogger) cache.Observer {
	return cache.ObserverFunc(func(e cache.Event) {
		entry := logger.WithFields(OutcomeFields(e))
		switch {
		case e.Err != nil:
			entry.WithError(e.Err).Warn("cache access failed")
		case e.Outcome == cache.OutcomeFailed:
			entry.Warn("cache access timed out")
		default:
			entry.Debug("cache access")
		}
	})
}
