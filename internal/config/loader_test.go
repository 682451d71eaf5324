package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"

[Cache]
AccessTimeout = "boom"

[[Origin]]
Name = "images"
Domain = "images.local"
Upstream = "https://images.example.com"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadMemoryBackendKeepsEmptyPath(t *testing.T) {
	cfg := `
[Cache]
AccessTimeout = "250ms"
Async = false
MaxQueueBytes = 0

[Storage]
Backend = "Memory"
Path = ""

[[Origin]]
Name = "images"
Domain = "images.local"
Upstream = "http://127.0.0.1:9000"
Extension = ".png"
`
	loaded := mustLoad(t, cfg)
	if loaded.Storage.Backend != BackendMemory {
		t.Fatalf("Backend 应被规范化为小写，得到 %s", loaded.Storage.Backend)
	}
	if loaded.Storage.Path != "" {
		t.Fatalf("memory 后端不应解析路径，得到 %s", loaded.Storage.Path)
	}
	if loaded.Cache.Async {
		t.Fatalf("Async=false 应覆盖默认值")
	}
	if loaded.Cache.AccessTimeout.DurationValue() != 250*time.Millisecond {
		t.Fatalf("AccessTimeout 解析错误: %s", loaded.Cache.AccessTimeout.DurationValue())
	}
	if loaded.Origins[0].Extension != "png" {
		t.Fatalf("Extension 应去除前导点，得到 %s", loaded.Origins[0].Extension)
	}
}

func TestLoadAppliesCacheDefaults(t *testing.T) {
	loaded := mustLoad(t, `
[Storage]
Backend = "memory"

[[Origin]]
Name = "images"
Domain = "images.local"
Upstream = "https://images.example.com"
`)
	if loaded.Cache.AccessTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("AccessTimeout 默认应为 15s，得到 %s", loaded.Cache.AccessTimeout.DurationValue())
	}
	if loaded.Cache.RacePollInterval.DurationValue() != 100*time.Millisecond {
		t.Fatalf("RacePollInterval 默认应为 100ms，得到 %s", loaded.Cache.RacePollInterval.DurationValue())
	}
	if !loaded.Cache.Async || loaded.Cache.MaxQueueBytes != 100*1024*1024 {
		t.Fatalf("异步写队列默认值错误: %+v", loaded.Cache)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 默认应为 30s")
	}
}
