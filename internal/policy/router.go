package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shellcache/shellcache/internal/config"
)

// Route 表示请求的处理方式。
type Route int

const (
	// RouteDelegate 交给宿主应用自己的处理逻辑，不触碰缓存。
	RouteDelegate Route = iota
	// RouteAPI 使用短时 API 缓存策略。
	RouteAPI
	// RouteStatic 使用按扩展名过期的静态资源策略。
	RouteStatic
)

func (r Route) String() string {
	switch r {
	case RouteDelegate:
		return "delegate"
	case RouteAPI:
		return "api"
	case RouteStatic:
		return "static"
	default:
		return "unknown"
	}
}

// Classifier 按固定顺序对请求分类：宿主资源 > API > 静态资源。
type Classifier struct {
	scheme string
	host   string

	delegatePrefixes []string
	delegateFiles    []string
	apiPrefixes      []string
	backendMarkers   []string
}

// NewClassifier 以 origin（scheme://host[:port]）构造分类器。
func NewClassifier(origin string, routing config.RoutingConfig) (*Classifier, error) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %q", origin)
	}
	return &Classifier{
		scheme:           strings.ToLower(parsed.Scheme),
		host:             strings.ToLower(parsed.Host),
		delegatePrefixes: routing.DelegatePrefixes,
		delegateFiles:    routing.DelegateFiles,
		apiPrefixes:      routing.APIPrefixes,
		backendMarkers:   routing.BackendMarkers,
	}, nil
}

// Origin 返回规范化后的 scheme://host。
func (c *Classifier) Origin() string {
	return c.scheme + "://" + c.host
}

// SameOrigin 比较 scheme 与 host（含端口）。
func (c *Classifier) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.scheme) && strings.EqualFold(u.Host, c.host)
}

// Classify 返回请求对应的策略，首条命中的规则生效。
func (c *Classifier) Classify(u *url.URL) Route {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if c.SameOrigin(u) && c.isHostResource(path) {
		return RouteDelegate
	}
	if hasAnyPrefix(path, c.apiPrefixes) || containsAny(u.Hostname(), c.backendMarkers) {
		return RouteAPI
	}
	return RouteStatic
}

func (c *Classifier) isHostResource(path string) bool {
	return path == "/" || hasAnyPrefix(path, c.delegatePrefixes) || containsAny(path, c.delegateFiles)
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
