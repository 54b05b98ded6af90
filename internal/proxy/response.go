package proxy

import (
	"net/http"
	"path"

	"github.com/gofiber/fiber/v3"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/server"
)

const (
	headerOutcome  = "X-Shellcache-Outcome"
	headerStrategy = "X-Shellcache-Strategy"
)

// buildRequest 将 Fiber 请求转换为客户端视角的逻辑请求。
func buildRequest(c fiber.Ctx, route *server.SiteRoute) *fetch.Request {
	uri := c.Request().URI()
	req := &fetch.Request{
		Method: c.Method(),
		URL:    route.LogicalURL(normalizeRequestPath(string(uri.Path())), string(uri.QueryString())),
		Header: fiberHeadersAsHTTP(c),
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		req.Body = append([]byte(nil), c.Body()...)
	}
	return req
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && len(raw) > 1 && raw[len(raw)-1] == '/' {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// writeResponse 输出缓存或上游响应，自动忽略 hop-by-hop 与 Content-Length。
func writeResponse(c fiber.Ctx, resp *cache.Response, strategy string, outcome Outcome, requestID string) error {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
	c.Set(headerStrategy, strategy)
	c.Set(headerOutcome, string(outcome))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(resp.Status).Send(resp.Body)
}

func writeError(c fiber.Ctx, status int, code, requestID string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
