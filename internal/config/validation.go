package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if c.Cache.AccessTimeout.DurationValue() < 0 {
		return newFieldError("Cache.AccessTimeout", "不能为负数")
	}
	if c.Cache.MaxQueueBytes < 0 {
		return newFieldError("Cache.MaxQueueBytes", "不能为负数")
	}
	if c.Cache.FlushTimeout.DurationValue() < 0 {
		return newFieldError("Cache.FlushTimeout", "不能为负数")
	}

	switch c.Storage.Backend {
	case BackendFS, BackendOCI:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return newFieldError("Storage.Path", "不能为空")
		}
	case BackendMemory:
	default:
		return newFieldError("Storage.Backend", "仅支持 fs/memory/oci")
	}

	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError("Origin[].Name", "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateDomain(origin.Domain); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Domain"), err)
		}
		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Upstream"), err)
		}
		if strings.ContainsAny(origin.Extension, `/\ `) {
			return newFieldError(originField(origin.Name, "Extension"), "不允许包含路径分隔符或空格")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
