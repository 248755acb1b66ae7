package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"vision-analyzer-go/internal/domain/analysis"
	"vision-analyzer-go/internal/domain/eventbus"
	domainimage "vision-analyzer-go/internal/domain/image"
	"vision-analyzer-go/internal/domain/settings"
	settingsstore "vision-analyzer-go/internal/domain/settings/store"
	platformconfig "vision-analyzer-go/internal/platform/config"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	platformlogging "vision-analyzer-go/internal/platform/logging"
	platformobservability "vision-analyzer-go/internal/platform/observability"
	platformstorage "vision-analyzer-go/internal/platform/storage"
	httptransport "vision-analyzer-go/internal/transport/http"
	"vision-analyzer-go/internal/transport/http/analysisapi"
	"vision-analyzer-go/internal/transport/http/health"
	"vision-analyzer-go/internal/transport/http/settingsapi"
)

// Version is reported by the health route; overridden at build time.
var Version = "dev"

const logTag = "引导"

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configLoader          *platformconfig.Loader
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	events                *platformstorage.EventRepository
	store                 settingsstore.Store
	settings              *settings.Service
	bus                   *eventbus.Bus
	analysis              *analysis.Service
	router                *httptransport.Router
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	return run(ctx, &appState{})
}

func run(ctx context.Context, state *appState) error {
	steps := InitGraph()
	err := executeInitSteps(ctx, steps, state)
	defer state.close()
	if err != nil {
		return err
	}

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}

	return waitForShutdown(groupCtx, cancel, logger, group)
}

// close 按依赖的逆序释放资源
func (s *appState) close() {
	logger := s.logger
	if logger == nil {
		logger = platformlogging.NewNop()
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			logger.WarnTag(logTag, "设置存储未正常关闭: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			logger.WarnTag(logTag, "数据库未正常关闭: %v", err)
		}
	}
	if shutdown := s.observabilityShutdown; shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.WarnTag(logTag, "可观测性未正常关闭: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag(logTag, "初始化依赖关系概览")

	stepNames := map[string]string{
		"config:load":               "加载配置",
		"logging:init-provider":     "初始化日志提供者",
		"observability:setup-hooks": "设置可观测性钩子",
		"storage:init-database":     "初始化数据库",
		"eventbus:start":            "启动事件总线",
		"settings:init-service":     "初始化设置服务",
		"analysis:init-service":     "初始化分析服务",
		"http:build-router":         "构建 HTTP 路由",
	}

	for _, step := range steps {
		if name, ok := stepNames[step.ID]; ok {
			logger.InfoTag(logTag, "%s (依赖: %s)", name, strings.Join(step.DependsOn, ", "))
		}
	}
	logger.InfoTag(logTag, "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "eventbus:start",
			Title:     "Start event bus",
			DependsOn: []string{"logging:init-provider", "storage:init-database"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   startEventBusStep,
		},
		{
			ID:        "settings:init-service",
			Title:     "Initialise settings service",
			DependsOn: []string{"storage:init-database", "eventbus:start"},
			Kind:      platformerrors.KindSettings,
			Execute:   initSettingsStep,
		},
		{
			ID:        "analysis:init-service",
			Title:     "Initialise analysis service",
			DependsOn: []string{"observability:setup-hooks", "settings:init-service"},
			Kind:      platformerrors.KindAnalysis,
			Execute:   initAnalysisStep,
		},
		{
			ID:        "http:build-router",
			Title:     "Build HTTP router",
			DependsOn: []string{"analysis:init-service"},
			Kind:      platformerrors.KindTransport,
			Execute:   buildRouterStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := state.configLoader
	if loader == nil {
		loader = platformconfig.NewLoader()
	}
	result, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger

	logger.InfoTag(logTag, "日志模块就绪 [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled || strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// initDatabaseStep 打开 SQLite，用于 sqlite 设置驱动和分析审计表
func initDatabaseStep(_ context.Context, state *appState) error {
	path := state.config.Settings.SQLite.Path
	if path == "" {
		state.logger.WarnTag(logTag, "未配置数据库路径，审计记录已关闭")
		return nil
	}
	db, err := platformstorage.Open(path)
	if err != nil {
		return err
	}
	state.db = db
	state.events = platformstorage.NewEventRepository(db)
	state.logger.InfoTag(logTag, "数据库已就绪 %s", path)
	return nil
}

func startEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.New(0, state.logger)
	bus.Start()
	state.bus = bus

	if state.events != nil {
		recorder := eventbus.NewAuditRecorder(state.events, state.logger)
		if err := recorder.Attach(bus); err != nil {
			return platformerrors.Wrap(platformerrors.KindBootstrap, "eventbus:start", "failed to attach audit recorder", err)
		}
	}
	return nil
}

func initSettingsStep(ctx context.Context, state *appState) error {
	cfg := state.config.Settings
	storeCfg := settingsstore.Config{Driver: strings.ToLower(strings.TrimSpace(cfg.Driver))}
	if storeCfg.Driver == settingsstore.DriverRedis {
		if cfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindSettings, "settings:init-service", "redis store addr is required")
		}
		storeCfg.Redis = &settingsstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	st, err := settingsstore.New(storeCfg, settingsstore.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindSettings, "settings:init-service", "failed to create settings store", err)
	}
	state.store = st
	state.settings = settings.NewService(st, state.bus, state.logger)

	if _, err := state.settings.Seed(ctx, seedValues(state.config.Analysis)); err != nil {
		return err
	}
	state.logger.InfoFields(platformlogging.FormatLog("设置", "设置存储已就绪"), map[string]interface{}{
		"driver": storeCfg.Driver,
	})
	return nil
}

// seedValues 配置文件中的分析参数只在存储中没有对应值时写入
func seedValues(cfg platformconfig.AnalysisConfig) map[string]string {
	values := map[string]string{
		settings.KeyAPIKey:    cfg.APIKey,
		settings.KeyBaseURL:   cfg.BaseURL,
		settings.KeyModelName: cfg.ModelName,
		settings.KeyProxyURL:  cfg.ProxyURL,
	}
	if cfg.JSONResponseFormat {
		values[settings.KeyJSONResponseFormat] = "true"
	}
	if cfg.ThinkingSuppression {
		values[settings.KeyThinkingSuppression] = "true"
	}
	return values
}

func initAnalysisStep(ctx context.Context, state *appState) error {
	loader := domainimage.NewLoader(state.config.Image, state.logger)
	pipeline := analysis.NewPipeline(nil, loader,
		analysis.WithLogger(state.logger),
		analysis.WithImageConcurrency(state.config.Analysis.MaxConcurrentImages),
		analysis.WithNotifier(state.bus),
	)

	svc := analysis.NewService(pipeline, state.settings, state.logger)
	if err := svc.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindAnalysis, "analysis:init-service", "failed to subscribe to settings changes", err)
	}
	svc.Refresh(ctx)
	state.analysis = svc
	return nil
}

func buildRouterStep(ctx context.Context, state *appState) error {
	router, err := httptransport.Build(httptransport.Options{
		Config: state.config,
		Logger: state.logger,
	})
	if err != nil {
		return err
	}

	healthService := health.NewService(health.Options{
		Analysis: state.analysis,
		Settings: state.settings,
		Events:   eventCounts(state.events),
		Logger:   state.logger,
		Version:  Version,
	})

	settingsService, err := settingsapi.NewService(state.settings, state.analysis, state.logger)
	if err != nil {
		return err
	}

	analysisService, err := analysisapi.NewService(analysisapi.Options{
		Analyzer:    state.analysis,
		History:     historyReader(state.events),
		Logger:      state.logger,
		MaxFileSize: state.config.Image.MaxFileSize,
	})
	if err != nil {
		return err
	}

	for _, registrar := range []interface {
		Register(context.Context, *gin.RouterGroup) error
	}{healthService, settingsService, analysisService} {
		if err := registrar.Register(ctx, router.API); err != nil {
			return err
		}
	}

	state.router = router
	return nil
}

// 避免把 nil 指针装进接口
func eventCounts(repo *platformstorage.EventRepository) health.CountSource {
	if repo == nil {
		return nil
	}
	return repo
}

func historyReader(repo *platformstorage.EventRepository) analysisapi.HistoryReader {
	if repo == nil {
		return nil
	}
	return repo
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	if state.router == nil {
		return nil, platformerrors.New(platformerrors.KindBootstrap, "http:start", "router not built")
	}
	logger := state.logger
	cfg := state.config.Server

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		Handler:           state.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:start", "failed to listen", err)
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", listener.Addr())
		logger.InfoTag("HTTP", "健康检查入口: http://%s/api/health", listener.Addr())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务运行失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag(logTag, "收到关闭信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(logTag, "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag(logTag, "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag(logTag, "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
