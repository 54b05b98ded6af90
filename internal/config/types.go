package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
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

// GlobalConfig 描述全局运行时行为，所有 Site 共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	StorageBackend     string   `mapstructure:"StorageBackend"`
	Origin             string   `mapstructure:"Origin"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	APIMaxAge          Duration `mapstructure:"APIMaxAge"`
	StampStaticEntries bool     `mapstructure:"StampStaticEntries"`
	StaticRoot         string   `mapstructure:"StaticRoot"`
	CriticalAssets     []string `mapstructure:"CriticalAssets"`
	CompressExtensions []string `mapstructure:"CompressExtensions"`
	InstallSessionTTL  Duration `mapstructure:"InstallSessionTTL"`
}

// PartitionConfig 列出所有被识别的缓存分区名，激活阶段会删除其余分区。
type PartitionConfig struct {
	Static   string   `mapstructure:"Static"`
	API      string   `mapstructure:"API"`
	Critical string   `mapstructure:"Critical"`
	Reserved []string `mapstructure:"Reserved"`
}

// Recognized 返回激活清理时需要保留的全部分区名。
func (p PartitionConfig) Recognized() []string {
	names := []string{p.Static, p.API, p.Critical}
	for _, name := range p.Reserved {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// RoutingConfig 控制请求分类：交给宿主处理、API 策略或静态资源策略。
type RoutingConfig struct {
	DelegatePrefixes []string `mapstructure:"DelegatePrefixes"`
	DelegateFiles    []string `mapstructure:"DelegateFiles"`
	APIPrefixes      []string `mapstructure:"APIPrefixes"`
	BackendMarkers   []string `mapstructure:"BackendMarkers"`
}

// RuleConfig 对应一条按扩展名匹配的缓存规则。
type RuleConfig struct {
	Name       string   `mapstructure:"Name"`
	Extensions []string `mapstructure:"Extensions"`
	MaxAge     Duration `mapstructure:"MaxAge"`
}

// SiteConfig 描述一个对外域名及其真实上游。
type SiteConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Scheme   string `mapstructure:"Scheme"`
	Upstream string `mapstructure:"Upstream"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig    `mapstructure:",squash"`
	Partitions PartitionConfig `mapstructure:"Partitions"`
	Routing    RoutingConfig   `mapstructure:"Routing"`
	Rules      []RuleConfig    `mapstructure:"Rule"`
	Sites      []SiteConfig    `mapstructure:"Site"`
}

// PublicURL 返回 Site 对外暴露的 scheme://domain，用于同源判断。
func (s SiteConfig) PublicURL() string {
	scheme := strings.ToLower(strings.TrimSpace(s.Scheme))
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(strings.TrimSpace(s.Domain))
}

// SiteNames 返回所有 Site 名称，供启动日志使用。
func SiteNames(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.Domain)
	}
	return result
}
