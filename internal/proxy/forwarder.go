package proxy

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/server"
)

// Activation 报告 worker 是否已接管请求；接管前所有请求都交给宿主。
type Activation interface {
	Controlling() bool
}

// Forwarder 实现 server.ProxyHandler：先让引擎决定是否拦截，未拦截的请求交给宿主处理器。
type Forwarder struct {
	engine *Engine
	host   HostHandler
	gate   Activation
	logger *logrus.Logger
}

// NewForwarder 创建 Forwarder，gate 为空时视为始终已接管。
func NewForwarder(engine *Engine, host HostHandler, gate Activation, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Forwarder{
		engine: engine,
		host:   host,
		gate:   gate,
		logger: logger,
	}
}

// Handle 构建逻辑请求并分派，任何 panic 都会转换为 500 handler_panic。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()

	req := buildRequest(c, route)
	if f.engine == nil || (f.gate != nil && !f.gate.Controlling()) {
		return f.delegate(c, route, req, requestID, started)
	}

	responder, ok := f.engine.Intercept(req)
	if !ok {
		return f.delegate(c, route, req, requestID, started)
	}

	result, err := responder(c.Context())
	if err != nil {
		f.logResult(route, "", "error", requestID, fiber.StatusBadGateway, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}

	strategy := result.Strategy.String()
	writeErr := writeResponse(c, result.Response, strategy, result.Outcome, requestID)
	f.logResult(route, strategy, string(result.Outcome), requestID, result.Response.Status, started, writeErr)
	return writeErr
}

func (f *Forwarder) delegate(c fiber.Ctx, route *server.SiteRoute, req *fetch.Request, requestID string, started time.Time) error {
	if f.host == nil {
		f.logResult(route, "delegate", "error", requestID, fiber.StatusInternalServerError, started, fmt.Errorf("host handler missing"))
		return writeError(c, fiber.StatusInternalServerError, "host_handler_missing", requestID)
	}
	err := f.host.ServeHost(c, route, req)
	f.logResult(route, "delegate", "delegated", requestID, c.Response().StatusCode(), started, err)
	return err
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.SiteRoute, recovered interface{}, requestID string) error {
	fields := f.routeFields(route, "", "error", requestID)
	fields["action"] = "proxy"
	fields["error"] = "handler_panic"
	f.logger.WithFields(fields).Error(fmt.Sprintf("panic: %v", recovered))
	return writeError(c, fiber.StatusInternalServerError, "handler_panic", requestID)
}

func (f *Forwarder) logResult(route *server.SiteRoute, strategy, outcome, requestID string, status int, started time.Time, err error) {
	fields := f.routeFields(route, strategy, outcome, requestID)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

func (f *Forwarder) routeFields(route *server.SiteRoute, strategy, outcome, requestID string) logrus.Fields {
	var fields logrus.Fields
	if route == nil {
		fields = logging.RequestFields("", "", strategy, outcome)
	} else {
		fields = logging.RequestFields(route.Config.Name, route.Config.Domain, strategy, outcome)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
