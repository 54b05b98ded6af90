package proxy

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/server"
)

// HostHandler 服务被引擎放行的宿主资源请求。
type HostHandler interface {
	ServeHost(c fiber.Ctx, route *server.SiteRoute, req *fetch.Request) error
}

// HostHandlerFunc 将普通函数适配为 HostHandler。
type HostHandlerFunc func(fiber.Ctx, *server.SiteRoute, *fetch.Request) error

// ServeHost 实现 HostHandler。
func (f HostHandlerFunc) ServeHost(c fiber.Ctx, route *server.SiteRoute, req *fetch.Request) error {
	return f(c, route, req)
}

// Passthrough 直接回源且不写缓存；网络失败时尝试关键资源分区中的同 URL 条目。
type Passthrough struct {
	fetcher  fetch.Fetcher
	storage  cache.Storage
	critical string
	logger   *logrus.Logger
}

// NewPassthrough 构造透传处理器；storage 为空时不做任何回退。
func NewPassthrough(fetcher fetch.Fetcher, storage cache.Storage, critical string, logger *logrus.Logger) *Passthrough {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Passthrough{
		fetcher:  fetcher,
		storage:  storage,
		critical: critical,
		logger:   logger,
	}
}

// ServeHost 实现 HostHandler。
func (p *Passthrough) ServeHost(c fiber.Ctx, route *server.SiteRoute, req *fetch.Request) error {
	requestID := server.RequestID(c)
	ctx := c.Context()

	resp, err := p.fetcher.Fetch(ctx, req)
	if err == nil {
		return writeResponse(c, resp, "delegate", OutcomeNetwork, requestID)
	}

	if cached := p.criticalFallback(c, req); cached != nil {
		p.logger.WithFields(logrus.Fields{
			"action":     "host_fallback",
			"site":       route.Config.Name,
			"url":        req.Key(),
			"request_id": requestID,
		}).WithError(err).Warn("host fetch failed, serving critical asset")
		return writeResponse(c, cached, "delegate", OutcomeStale, requestID)
	}

	p.logger.WithFields(logrus.Fields{
		"action":     "host_fetch",
		"site":       route.Config.Name,
		"url":        req.Key(),
		"request_id": requestID,
	}).WithError(err).Error("host fetch failed")
	return writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
}

func (p *Passthrough) criticalFallback(c fiber.Ctx, req *fetch.Request) *cache.Response {
	if p.storage == nil || p.critical == "" || !req.IsGet() {
		return nil
	}
	ctx := c.Context()
	partition, err := p.storage.Open(ctx, p.critical)
	if err != nil {
		return nil
	}
	cached, err := partition.Match(ctx, req.Key())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			p.logger.WithFields(logging.PartitionFields("cache_match", p.critical)).
				WithError(err).Warn("cache_match_failed")
		}
		return nil
	}
	return cached
}
