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
	"go.opentelemetry.io/otel"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/logging"
	"github.com/any-hub/cloudcache/internal/proxy"
	"github.com/any-hub/cloudcache/internal/server"
	"github.com/any-hub/cloudcache/internal/server/routes"
	"github.com/any-hub/cloudcache/internal/storage/provider"
	"github.com/any-hub/cloudcache/internal/version"
)

const shutdownTimeout = 30 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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
		fields["origins"] = config.OriginNames(cfg.Origins)
		fields["storage"] = cfg.Storage.Backend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储后端 → 缓存编排器 → OriginRegistry → Fiber server，
	// 所有请求共享同一个编排器，保证锁表与索引在进程内唯一。
	app, orchestrator, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = config.OriginNames(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage"] = cfg.Storage.Backend
	fields["async"] = cfg.Cache.Async
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, app, orchestrator, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildOrchestrator 打开存储后端并挂载日志与指标观察者。
func buildOrchestrator(cfg *config.Config, logger *logrus.Logger) (*cache.Orchestrator, error) {
	backend, err := provider.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	metrics, err := cache.NewMetricsObserver(otel.GetMeterProvider().Meter("cloudcache"))
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return cache.New(backend, cache.Options{
		MaxQueueBytes:    cfg.Cache.MaxQueueBytes,
		RacePollInterval: cfg.Cache.RacePollInterval.DurationValue(),
		FlushTimeout:     cfg.Cache.FlushTimeout.DurationValue(),
		Logger:           logger,
		Observers:        []cache.Observer{logging.OutcomeObserver(logger), metrics},
	})
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cloudcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CLOUDCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CLOUDCACHE_CONFIG")
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
	}, nil
}

// buildApp 组装完整的请求链路：存储 → 编排器 → 源站注册表 → 缓存 handler → Fiber 应用。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *cache.Orchestrator, error) {
	orchestrator, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}

	handler := proxy.NewHandler(server.NewUpstreamClient(cfg), logger, orchestrator, cfg.Cache)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    handler,
		ListenPort: cfg.Global.ListenPort,
		Diagnostics: []server.DiagnosticsRoutes{
			routes.Diagnostics(orchestrator, registry, cfg.Cache.AccessTimeout.DurationValue()),
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return app, orchestrator, nil
}

// serve 阻塞直到监听失败或 ctx 结束；退出前等待后台写队列全部落盘。
func serve(ctx context.Context, app *fiber.App, orchestrator *cache.Orchestrator, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	var err error
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号，等待请求与写队列完成")
		err = app.ShutdownWithTimeout(shutdownTimeout)
		if listenErr := <-errCh; listenErr != nil && err == nil {
			err = listenErr
		}
	}

	orchestrator.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
