package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/config"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/metrics"
	"github.com/shellcache/shellcache/internal/policy"
)

// ErrCacheMiss 表示网络失败且没有任何可回退的缓存条目。
var ErrCacheMiss = errors.New("network failed and no cached entry available")

// Outcome 描述响应来源。
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeNetwork Outcome = "network"
	OutcomeStale   Outcome = "stale"
)

// Result 是引擎处理一次请求的结果。
type Result struct {
	Response *cache.Response
	Strategy policy.Route
	Outcome  Outcome
}

// Responder 生成最终响应，由 Intercept 返回给前端执行。
type Responder func(ctx context.Context) (*Result, error)

// EngineOptions 聚合引擎依赖，Now 为空时使用 time.Now。
type EngineOptions struct {
	Storage     cache.Storage
	Fetcher     fetch.Fetcher
	Classifier  *policy.Classifier
	Rules       *policy.RuleTable
	Partitions  config.PartitionConfig
	APIMaxAge   time.Duration
	StampStatic bool
	Logger      *logrus.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

// Engine 实现静态资源与 API 两种缓存策略，宿主资源一律放行。
type Engine struct {
	storage     cache.Storage
	fetcher     fetch.Fetcher
	classifier  *policy.Classifier
	rules       *policy.RuleTable
	partitions  config.PartitionConfig
	apiMaxAge   time.Duration
	stampStatic bool
	logger      *logrus.Logger
	metrics     *metrics.Recorder
	now         func() time.Time
}

// NewEngine 校验依赖并构造引擎。
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if opts.Partitions.Static == "" || opts.Partitions.API == "" {
		return nil, errors.New("static and api partitions are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		classifier:  opts.Classifier,
		rules:       opts.Rules,
		partitions:  opts.Partitions,
		apiMaxAge:   opts.APIMaxAge,
		stampStatic: opts.StampStatic,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         now,
	}, nil
}

// Classify 暴露分类结果，便于前端记录日志。
func (e *Engine) Classify(req *fetch.Request) policy.Route {
	return e.classifier.Classify(req.URL)
}

// Intercept 返回 false 表示请求交给宿主处理，引擎不会触碰缓存或网络。
func (e *Engine) Intercept(req *fetch.Request) (Responder, bool) {
	if req == nil || req.URL == nil {
		return nil, false
	}
	switch e.classifier.Classify(req.URL) {
	case policy.RouteAPI:
		return func(ctx context.Context) (*Result, error) {
			return e.ServeAPI(ctx, req)
		}, true
	case policy.RouteStatic:
		return func(ctx context.Context) (*Result, error) {
			return e.ServeStatic(ctx, req)
		}, true
	default:
		return nil, false
	}
}

// ServeStatic 优先返回未过期的缓存；否则回源，200 响应写回静态分区，网络失败时回退到任意缓存。
// 查找顺序为静态、关键资源、API 分区，安装阶段预取的关键资源因此可以离线命中。
func (e *Engine) ServeStatic(ctx context.Context, req *fetch.Request) (*Result, error) {
	lookup := []string{e.partitions.Static, e.partitions.Critical, e.partitions.API}
	return e.serve(ctx, req, policy.RouteStatic, lookup, e.stampStatic, func(writer cache.StrategyWriter, cached *cache.Response) bool {
		rule, ok := e.rules.Match(req.URL.Path)
		return ok && writer.IsFresh(cached, rule.MaxAge)
	})
}

// ServeAPI 与 ServeStatic 流程一致，只查 API 分区，新鲜度固定为 APIMaxAge，写入时总是打 cached-at。
func (e *Engine) ServeAPI(ctx context.Context, req *fetch.Request) (*Result, error) {
	return e.serve(ctx, req, policy.RouteAPI, []string{e.partitions.API}, true, func(writer cache.StrategyWriter, cached *cache.Response) bool {
		return writer.IsFresh(cached, e.apiMaxAge)
	})
}

type freshnessFunc func(writer cache.StrategyWriter, cached *cache.Response) bool

// serve 的 lookup[0] 同时是写入分区。
func (e *Engine) serve(
	ctx context.Context,
	req *fetch.Request,
	strategy policy.Route,
	lookup []string,
	stamp bool,
	fresh freshnessFunc,
) (*Result, error) {
	key := req.Key()
	partitionName := lookup[0]

	var partition cache.Partition
	var cached *cache.Response
	if req.IsGet() {
		partition = e.openPartition(ctx, partitionName)
		cached = e.match(ctx, partition, key)
		for _, name := range lookup[1:] {
			if cached != nil {
				break
			}
			if name == "" || name == partitionName {
				continue
			}
			cached = e.match(ctx, e.openPartition(ctx, name), key)
		}
	}
	writer := cache.NewStrategyWriter(partition, stamp, e.now)

	if cached != nil && fresh(writer, cached) {
		return e.finish(strategy, OutcomeHit, cached), nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if cached != nil {
			e.logger.WithFields(logrus.Fields{
				"action":   "stale_fallback",
				"strategy": strategy.String(),
				"url":      key,
			}).WithError(err).Warn("network failed, serving cached entry")
			return e.finish(strategy, OutcomeStale, cached), nil
		}
		e.metrics.ObserveRequest(strategy.String(), "error")
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, err)
	}

	if partition != nil && resp.Status == 200 {
		putErr := writer.Put(ctx, key, resp)
		e.metrics.ObserveCacheWrite(partitionName, putErr)
		if putErr != nil {
			e.logger.WithFields(logging.PartitionFields("cache_put", partitionName)).
				WithError(putErr).Warn("cache_put_failed")
		}
	}
	return e.finish(strategy, OutcomeNetwork, resp), nil
}

func (e *Engine) openPartition(ctx context.Context, name string) cache.Partition {
	p, err := e.storage.Open(ctx, name)
	if err != nil {
		e.logger.WithFields(logging.PartitionFields("cache_open", name)).
			WithError(err).Warn("cache_open_failed")
		return nil
	}
	return p
}

// match 读取失败按未命中处理，ErrNotFound 以外的错误记录告警。
func (e *Engine) match(ctx context.Context, partition cache.Partition, key string) *cache.Response {
	if partition == nil {
		return nil
	}
	resp, err := partition.Match(ctx, key)
	switch {
	case err == nil:
		return resp
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		e.logger.WithFields(logging.PartitionFields("cache_match", partition.Name())).
			WithError(err).Warn("cache_match_failed")
		return nil
	}
}

func (e *Engine) finish(strategy policy.Route, outcome Outcome, resp *cache.Response) *Result {
	e.metrics.ObserveRequest(strategy.String(), string(outcome))
	return &Result{Response: resp, Strategy: strategy, Outcome: outcome}
}
