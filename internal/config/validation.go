package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// StorageBackendDisk 将分区落盘到 StoragePath。
	StorageBackendDisk = "disk"
	// StorageBackendMemory 仅在进程内保存分区，重启即失效。
	StorageBackendMemory = "memory"
)

var extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.StorageBackend {
	case StorageBackendDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "disk 模式下不能为空")
		}
	case StorageBackendMemory:
	default:
		return newFieldError("Global.StorageBackend", "仅支持 disk|memory")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.APIMaxAge.DurationValue() <= 0 {
		return newFieldError("Global.APIMaxAge", "必须大于 0")
	}
	if err := validateUpstream(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	for _, asset := range g.CriticalAssets {
		if strings.TrimSpace(asset) == "" || strings.Contains(asset, "://") {
			return newFieldError("Global.CriticalAssets", "必须是相对路径: "+asset)
		}
	}

	if err := c.Partitions.validate(); err != nil {
		return err
	}

	if len(c.Rules) == 0 {
		return errors.New("至少需要一条 Rule")
	}
	seenRules := map[string]struct{}{}
	for _, rule := range c.Rules {
		if rule.Name == "" {
			return newFieldError("Rule[].Name", "不能为空")
		}
		if _, exists := seenRules[rule.Name]; exists {
			return newFieldError(ruleField(rule.Name, "Name"), "重复")
		}
		seenRules[rule.Name] = struct{}{}
		if len(rule.Extensions) == 0 {
			return newFieldError(ruleField(rule.Name, "Extensions"), "不能为空")
		}
		for _, ext := range rule.Extensions {
			if !extensionPattern.MatchString(strings.TrimPrefix(ext, ".")) {
				return newFieldError(ruleField(rule.Name, "Extensions"), "非法扩展名: "+ext)
			}
		}
		if rule.MaxAge.DurationValue() <= 0 {
			return newFieldError(ruleField(rule.Name, "MaxAge"), "必须大于 0")
		}
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	originMapped := false
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		if site.Scheme != "" && site.Scheme != "http" && site.Scheme != "https" {
			return newFieldError(siteField(site.Name, "Scheme"), "仅支持 http/https")
		}
		if err := validateUpstream(site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
		}
		if strings.EqualFold(site.PublicURL(), g.Origin) {
			originMapped = true
		}
	}
	if !originMapped {
		return newFieldError("Global.Origin", "必须与某个 Site 的 scheme://Domain 一致")
	}

	return nil
}

func (p PartitionConfig) validate() error {
	seen := map[string]string{}
	fields := []struct {
		field string
		name  string
	}{
		{"Partitions.Static", p.Static},
		{"Partitions.API", p.API},
		{"Partitions.Critical", p.Critical},
	}
	for _, reserved := range p.Reserved {
		fields = append(fields, struct {
			field string
			name  string
		}{"Partitions.Reserved", reserved})
	}
	for _, f := range fields {
		name := strings.TrimSpace(f.name)
		if name == "" {
			return newFieldError(f.field, "不能为空")
		}
		if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return newFieldError(f.field, "分区名不能包含路径分隔符或以 . 开头")
		}
		if prev, exists := seen[name]; exists {
			return newFieldError(f.field, "与 "+prev+" 重名")
		}
		seen[name] = f.field
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
