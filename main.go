package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/compress"
	"github.com/shellcache/shellcache/internal/config"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/installprompt"
	"github.com/shellcache/shellcache/internal/lifecycle"
	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/metrics"
	"github.com/shellcache/shellcache/internal/policy"
	"github.com/shellcache/shellcache/internal/proxy"
	"github.com/shellcache/shellcache/internal/server"
	"github.com/shellcache/shellcache/internal/server/routes"
	"github.com/shellcache/shellcache/internal/static"
	"github.com/shellcache/shellcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	compressDir string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	if opts.compressDir != "" {
		return runCompress(opts)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = config.SiteNames(cfg.Sites)
		fields["origin"] = cfg.Global.Origin
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, opts.configPath, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "启动失败: %v\n", err)
		return 1
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 按“站点表 → 缓存 → 抓取 → 策略引擎 → worker 安装/激活 → Fiber”顺序组装服务。
// 安装失败直接返回错误，引擎不会被激活。
func buildApp(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*fiber.App, error) {
	if !cfg.Global.StampStaticEntries {
		logger.WithFields(logging.BaseFields("config_warning", configPath)).
			Warn("StampStaticEntries=false: static entries carry no cached-at header and are never served fresh")
	}

	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建站点注册表失败: %w", err)
	}

	storage, err := openStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	recorder := metrics.NewRecorder()
	fetcher := fetch.NewHTTPFetcher(server.NewUpstreamClient(cfg), registry.ResolveUpstream)

	classifier, err := policy.NewClassifier(cfg.Global.Origin, cfg.Routing)
	if err != nil {
		return nil, err
	}
	rules, err := policy.NewRuleTable(cfg.Rules)
	if err != nil {
		return nil, err
	}

	engine, err := proxy.NewEngine(proxy.EngineOptions{
		Storage:     storage,
		Fetcher:     fetcher,
		Classifier:  classifier,
		Rules:       rules,
		Partitions:  cfg.Partitions,
		APIMaxAge:   cfg.Global.APIMaxAge.DurationValue(),
		StampStatic: cfg.Global.StampStaticEntries,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		return nil, err
	}

	worker, err := lifecycle.NewWorker(lifecycle.Options{
		Storage:        storage,
		Fetcher:        fetcher,
		Origin:         cfg.Global.Origin,
		CriticalAssets: cfg.Global.CriticalAssets,
		Partitions:     cfg.Partitions,
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		return nil, err
	}
	if err := startWorker(ctx, worker, logger); err != nil {
		return nil, err
	}

	host, err := buildHostHandler(cfg, classifier, fetcher, storage, logger)
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewForwarder(engine, host, worker, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}

	routes.RegisterDiagnosticRoutes(app, routes.DiagnosticsOptions{
		Registry:   registry,
		Worker:     worker,
		Storage:    storage,
		Partitions: cfg.Partitions,
		Rules:      rules,
		Metrics:    recorder,
		Version:    version.Full(),
		StartedAt:  time.Now(),
	})
	routes.RegisterInstallRoutes(app, installprompt.NewController(cfg.Global.InstallSessionTTL.DurationValue(), logger))

	fields := logging.BaseFields("startup", configPath)
	fields["sites"] = config.SiteNames(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["worker_state"] = worker.State()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return app, nil
}

// serviceWorker 是启动阶段需要的 worker 生命周期操作。
type serviceWorker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
}

// startWorker 安装失败返回错误并中止启动；激活失败只告警，worker 保持未接管，请求全部交给宿主处理。
func startWorker(ctx context.Context, worker serviceWorker, logger *logrus.Logger) error {
	if err := worker.Install(ctx); err != nil {
		return err
	}
	if err := worker.Activate(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action": "activate",
			"result": "unclaimed",
		}).WithError(err).Warn("activation failed, delegating every request")
	}
	return nil
}

func openStorage(cfg config.GlobalConfig) (cache.Storage, error) {
	if cfg.StorageBackend == config.StorageBackendMemory {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewStore(cfg.StoragePath)
}

// buildHostHandler 决定被委托请求的去向：配置了 StaticRoot 时 Origin 站点由本地构建目录提供，
// 其余一律直连上游。
func buildHostHandler(cfg *config.Config, classifier *policy.Classifier, fetcher fetch.Fetcher, storage cache.Storage, logger *logrus.Logger) (proxy.HostHandler, error) {
	passthrough := proxy.NewPassthrough(fetcher, storage, cfg.Partitions.Critical, logger)
	if cfg.Global.StaticRoot == "" {
		return passthrough, nil
	}
	files, err := static.NewServer(cfg.Global.StaticRoot, logger)
	if err != nil {
		return nil, err
	}
	return proxy.HostHandlerFunc(func(c fiber.Ctx, route *server.SiteRoute, req *fetch.Request) error {
		if classifier.SameOrigin(route.PublicURL) {
			return files.Handle(c)
		}
		return passthrough.ServeHost(c, route, req)
	}), nil
}

// runCompress 执行构建后的 gzip 压缩；配置文件存在时沿用其中的扩展名与日志设置。
func runCompress(opts cliOptions) int {
	global := config.GlobalConfig{LogLevel: "info"}
	if _, err := os.Stat(opts.configPath); err == nil {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
			return 1
		}
		global = cfg.Global
	}

	logger, err := logging.InitLogger(global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	result, err := compress.Run(context.Background(), opts.compressDir, compress.Options{
		Extensions: global.CompressExtensions,
		Logger:     logger,
	})
	if err != nil {
		if errors.Is(err, compress.ErrBuildDirMissing) {
			fmt.Fprintf(stdErr, "构建目录不存在，请先执行前端构建: %s\n", opts.compressDir)
		} else {
			fmt.Fprintf(stdErr, "压缩失败: %v\n", err)
		}
		return 1
	}

	fmt.Fprintf(stdOut, "compressed=%d failed=%d skipped=%d\n", result.Compressed, result.Failed, result.Skipped)
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		compressDir string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&compressDir, "compress", "", "为构建目录生成 .gz 文件后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		compressDir: compressDir,
	}, nil
}
