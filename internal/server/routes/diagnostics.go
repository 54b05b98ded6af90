package routes

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/config"
	"github.com/shellcache/shellcache/internal/lifecycle"
	"github.com/shellcache/shellcache/internal/metrics"
	"github.com/shellcache/shellcache/internal/policy"
	"github.com/shellcache/shellcache/internal/server"
)

// WorkerStatus 是诊断接口读取的 worker 状态。
type WorkerStatus interface {
	State() lifecycle.State
	Controlling() bool
}

// DiagnosticsOptions 聚合诊断接口依赖，缺失的字段对应的接口不会注册。
type DiagnosticsOptions struct {
	Registry   *server.SiteRegistry
	Worker     WorkerStatus
	Storage    cache.Storage
	Partitions config.PartitionConfig
	Rules      *policy.RuleTable
	Metrics    *metrics.Recorder
	Version    string
	StartedAt  time.Time
}

// RegisterDiagnosticRoutes 暴露 /-/status、/-/partitions 与 /-/metrics，供运维排查缓存状态。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"version": opts.Version,
			"sites":   encodeSites(opts.Registry),
			"rules":   encodeRules(opts.Rules),
		}
		if !opts.StartedAt.IsZero() {
			payload["uptime_seconds"] = int64(time.Since(opts.StartedAt) / time.Second)
		}
		if opts.Worker != nil {
			payload["worker"] = fiber.Map{
				"state":       opts.Worker.State(),
				"controlling": opts.Worker.Controlling(),
			}
		}
		return c.JSON(payload)
	})

	if opts.Storage != nil {
		app.Get("/-/partitions", func(c fiber.Ctx) error {
			names, err := opts.Storage.Keys(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "partition_list_failed"})
			}
			return c.JSON(fiber.Map{"partitions": encodePartitions(names, opts.Partitions)})
		})
	}

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
}

type sitePayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Public   string `json:"public_url"`
	Upstream string `json:"upstream"`
	Port     int    `json:"port"`
}

type rulePayload struct {
	Name          string `json:"name"`
	MaxAgeSeconds int64  `json:"max_age_seconds"`
}

type partitionPayload struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Recognized bool   `json:"recognized"`
}

func encodeSites(registry *server.SiteRegistry) []sitePayload {
	routes := registry.List()
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, sitePayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Public:   route.PublicURL.String(),
			Upstream: route.UpstreamURL.String(),
			Port:     route.ListenPort,
		})
	}
	return result
}

func encodeRules(table *policy.RuleTable) []rulePayload {
	rules := table.Rules()
	if len(rules) == 0 {
		return nil
	}
	result := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		result = append(result, rulePayload{
			Name:          rule.Name,
			MaxAgeSeconds: int64(rule.MaxAge / time.Second),
		})
	}
	return result
}

func encodePartitions(names []string, cfg config.PartitionConfig) []partitionPayload {
	roles := map[string]string{
		cfg.Static:   "static",
		cfg.API:      "api",
		cfg.Critical: "critical",
	}
	for _, name := range cfg.Reserved {
		roles[name] = "reserved"
	}
	result := make([]partitionPayload, 0, len(names))
	for _, name := range names {
		role, ok := roles[name]
		if !ok {
			role = "unrecognized"
		}
		result = append(result, partitionPayload{Name: name, Role: role, Recognized: ok})
	}
	return result
}
