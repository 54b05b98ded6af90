package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 负责处理已匹配站点的请求，测试中可注入替身实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// ProxyHandlerFunc 将普通函数适配为 ProxyHandler。
type ProxyHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle 实现 ProxyHandler。
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions 控制 Fiber 应用在指定端口上的行为。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	ListenPort int
	// BodyLimit 限制请求体大小，0 表示使用 Fiber 默认值。
	BodyLimit int
}

const (
	contextKeyRoute     = "_shellcache_route"
	contextKeyRequestID = "_shellcache_request_id"
)

// NewApp 构建带 Host/端口路由中间件与 JSON 错误处理的 Fiber 应用。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		route, _ := getRouteFromContext(c)
		if route == nil {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并基于 Host/Host:port 查找 SiteRoute。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	fields := logrus.Fields{
		"action": "host_lookup",
		"host":   host,
		"port":   port,
	}
	logger.WithFields(fields).Warn("host unmapped")

	if host != "" {
		c.Set("X-Shellcache-Host", host)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*SiteRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*SiteRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID 返回路由中间件写入的请求 ID。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// jsonErrorHandler 统一以 {"error": code} 形式输出未处理错误。
func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		}
		logger.WithFields(logrus.Fields{
			"action":     "http_error",
			"status":     status,
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).WithError(err).Warn("request failed")
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// IsDiagnosticsPath 判断路径是否属于 /-/ 管理接口。
func IsDiagnosticsPath(path string) bool {
	return isDiagnosticsPath(path)
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
