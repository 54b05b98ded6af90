// Package fetch 是缓存引擎的网络边界：把逻辑请求转换为上游 HTTP 调用并缓冲响应。
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/server"
)

// Request 是引擎看到的逻辑请求，URL 为客户端视角的绝对地址。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Key 返回缓存条目使用的绝对 URL。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// IsGet 报告请求是否可参与缓存读写。
func (r *Request) IsGet() bool {
	return r != nil && (r.Method == "" || r.Method == http.MethodGet)
}

// Fetcher 执行网络请求。传输层失败必须返回 *NetworkError，HTTP 状态码不视为错误。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// ResolveFunc 将逻辑 URL 映射为真实上游地址，返回 nil 表示按原地址请求。
type ResolveFunc func(*url.URL) *url.URL

// HTTPFetcher 基于共享 http.Client 实现 Fetcher。
type HTTPFetcher struct {
	client  *http.Client
	resolve ResolveFunc
}

// NewHTTPFetcher 构造 HTTPFetcher；client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client, resolve ResolveFunc) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, resolve: resolve}
}

// Fetch 发起请求并读取完整响应体。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("fetch: request url required")
	}
	target := req.URL
	if f.resolve != nil {
		if resolved := f.resolve(req.URL); resolved != nil {
			target = resolved
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &NetworkError{URL: target.String(), Err: err}
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	// 响应体需要原样缓存，交给 Transport 自行协商压缩。
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = target.Host
	if target.Host != req.URL.Host {
		upstreamReq.Header.Set("X-Forwarded-Host", req.URL.Host)
		upstreamReq.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, &NetworkError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: target.String(), Err: fmt.Errorf("read body: %w", err)}
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	// 正文已被完整读取，长度以实际字节为准。
	header.Del("Content-Length")

	return &cache.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       payload,
	}, nil
}
