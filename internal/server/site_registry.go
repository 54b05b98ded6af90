package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/shellcache/shellcache/internal/config"
)

// SiteRoute 将 Site 配置与解析后的上游地址聚合在一起，供代理层直接复用。
type SiteRoute struct {
	// Config 是 config.toml 中声明的 Site 字段副本。
	Config config.SiteConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// PublicURL 是客户端视角的 scheme://domain，逻辑请求 URL 以此为基准。
	PublicURL *url.URL
	// UpstreamURL 在构造 Registry 时提前解析完成。
	UpstreamURL *url.URL
}

// LogicalURL 以客户端视角拼出请求的绝对地址。
func (r *SiteRoute) LogicalURL(cleanPath, rawQuery string) *url.URL {
	u := &url.URL{
		Scheme:   r.PublicURL.Scheme,
		Host:     r.PublicURL.Host,
		Path:     cleanPath,
		RawQuery: rawQuery,
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力，所有 Site 共享同一个监听端口。
type SiteRegistry struct {
	routes  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewSiteRegistry(cfg *config.Config) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildSiteRoute(cfg, site)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute，端口部分会被忽略。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
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

// List 返回当前注册的 SiteRoute 列表（按配置定义的顺序），用于 /-/status 输出。
func (r *SiteRegistry) List() []SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]SiteRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// ResolveUpstream 将逻辑 URL 映射到对应 Site 的上游；未知 Host 返回 nil，调用方按原地址请求。
func (r *SiteRegistry) ResolveUpstream(logical *url.URL) *url.URL {
	if logical == nil {
		return nil
	}
	route, ok := r.Lookup(logical.Host)
	if !ok || !strings.EqualFold(route.PublicURL.Scheme, logical.Scheme) {
		return nil
	}
	relative := &url.URL{Path: logical.Path, RawPath: logical.RawPath, RawQuery: logical.RawQuery}
	return route.UpstreamURL.ResolveReference(relative)
}

func buildSiteRoute(cfg *config.Config, site config.SiteConfig) (*SiteRoute, error) {
	upstreamURL, err := url.Parse(site.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for site %s: %w", site.Name, err)
	}
	publicURL, err := url.Parse(site.PublicURL())
	if err != nil {
		return nil, fmt.Errorf("invalid public url for site %s: %w", site.Name, err)
	}

	return &SiteRoute{
		Config:      site,
		ListenPort:  cfg.Global.ListenPort,
		PublicURL:   publicURL,
		UpstreamURL: upstreamURL,
	}, nil
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
