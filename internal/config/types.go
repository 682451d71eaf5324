package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"500ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的存储后端。
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendOCI    = "oci"
)

// GlobalConfig 描述进程级行为：监听端口、日志与上游请求超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// CacheConfig 是传给缓存编排器的纯值参数。
type CacheConfig struct {
	// AccessTimeout 是单次请求等待锁以及写冲突轮询的预算。
	AccessTimeout Duration `mapstructure:"AccessTimeout"`
	Async         bool     `mapstructure:"Async"`
	// MaxQueueBytes 是异步写队列的字节上限，0 表示始终同步写入。
	MaxQueueBytes    int64    `mapstructure:"MaxQueueBytes"`
	RacePollInterval Duration `mapstructure:"RacePollInterval"`
	FlushTimeout     Duration `mapstructure:"FlushTimeout"`
}

// StorageConfig 选择远端对象存储实现。
type StorageConfig struct {
	Backend  string `mapstructure:"Backend"`
	Path     string `mapstructure:"Path"`
	Compress bool   `mapstructure:"Compress"`
}

// OriginConfig 将一个 Host 映射到上游源站，缓存未命中时从这里取回内容。
type OriginConfig struct {
	Name      string `mapstructure:"Name"`
	Domain    string `mapstructure:"Domain"`
	Upstream  string `mapstructure:"Upstream"`
	Extension string `mapstructure:"Extension"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Cache   CacheConfig    `mapstructure:"Cache"`
	Storage StorageConfig  `mapstructure:"Storage"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// OriginNames 返回所有源站名称，供启动日志使用。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = fmt.Sprintf("%s:%s", origin.Name, origin.Domain)
	}
	return result
}
