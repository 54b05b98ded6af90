package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultAPIMaxAge         = 5 * time.Minute
	defaultUpstreamTimeout   = 30 * time.Second
	defaultInstallSessionTTL = 30 * time.Minute
)

var (
	defaultCriticalAssets = []string{
		"main.dart.js",
		"flutter_bootstrap.js",
		"index.html",
		"assets/FontManifest.json",
	}
	defaultCompressExtensions = []string{
		".js", ".css", ".html", ".json", ".xml", ".svg", ".txt", ".map",
	}
	defaultReservedPartitions = []string{
		"flutter-app-cache",
		"flutter-app-manifest",
		"flutter-temp-cache",
	}
)

// DefaultRules 返回内置的三条扩展名缓存规则，顺序即匹配顺序。
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:       "images",
			Extensions: []string{"png", "gif", "jpg", "jpeg", "svg", "webp", "ico"},
			MaxAge:     Duration(7 * 24 * time.Hour),
		},
		{
			Name:       "fonts",
			Extensions: []string{"woff", "woff2", "ttf", "otf", "eot"},
			MaxAge:     Duration(30 * 24 * time.Hour),
		},
		{
			Name:       "staticAssets",
			Extensions: []string{"css", "js"},
			MaxAge:     Duration(7 * 24 * time.Hour),
		},
	}
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageBackend == StorageBackendDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", StorageBackendDisk)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("APIMaxAge", "5m")
	v.SetDefault("StampStaticEntries", true)
	v.SetDefault("InstallSessionTTL", "30m")
	v.SetDefault("Partitions.Static", "static-assets-cache")
	v.SetDefault("Partitions.API", "api-cache")
	v.SetDefault("Partitions.Critical", "critical-assets-cache")
}

// applyDefaults 为切片类字段补齐默认值；viper 默认值无法区分“未填写”与“空数组”。
func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = StorageBackendDisk
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(defaultUpstreamTimeout)
	}
	if g.APIMaxAge.DurationValue() == 0 {
		g.APIMaxAge = Duration(defaultAPIMaxAge)
	}
	if g.InstallSessionTTL.DurationValue() == 0 {
		g.InstallSessionTTL = Duration(defaultInstallSessionTTL)
	}
	if len(g.CriticalAssets) == 0 {
		g.CriticalAssets = append([]string(nil), defaultCriticalAssets...)
	}
	if len(g.CompressExtensions) == 0 {
		g.CompressExtensions = append([]string(nil), defaultCompressExtensions...)
	}
	g.Origin = strings.TrimSuffix(strings.TrimSpace(g.Origin), "/")

	if cfg.Partitions.Reserved == nil {
		cfg.Partitions.Reserved = append([]string(nil), defaultReservedPartitions...)
	}

	r := &cfg.Routing
	if r.DelegatePrefixes == nil {
		r.DelegatePrefixes = []string{"/flutter/", "/assets/", "/canvaskit/"}
	}
	if r.DelegateFiles == nil {
		r.DelegateFiles = []string{"main.dart.js", "flutter.js", "index.html"}
	}
	if r.APIPrefixes == nil {
		r.APIPrefixes = []string{"/api/"}
	}
	if r.BackendMarkers == nil {
		r.BackendMarkers = []string{"wp-json"}
	}

	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}

	for i := range cfg.Sites {
		site := &cfg.Sites[i]
		site.Domain = strings.ToLower(strings.TrimSpace(site.Domain))
		site.Scheme = strings.ToLower(strings.TrimSpace(site.Scheme))
		if site.Scheme == "" {
			site.Scheme = "https"
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
