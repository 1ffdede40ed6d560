package app

import (
	"context"
	"eduai_backend/internal/config"
	"eduai_backend/internal/controller"
	"eduai_backend/internal/generator"
	"eduai_backend/internal/repository"
	"eduai_backend/internal/service"
	"eduai_backend/pkg/configwatcher"
	"eduai_backend/pkg/database"
	"eduai_backend/pkg/logger"
	"eduai_backend/pkg/monitoring"
	"eduai_backend/pkg/security"
	"eduai_backend/pkg/tracing"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

// Backend 存储后端同时提供健康检查
type Backend interface {
	repository.Store
	controller.Pinger
}

type App struct {
	Config *config.Config
	Router *gin.Engine
	Store  Backend
	DB     *gorm.DB
	Redis  *redis.Client
	Log    *zap.Logger

	runner          *service.Runner
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type services struct {
	lesson   *service.LessonService
	quiz     *service.QuizService
	progress *service.ProgressService
}

type controllers struct {
	lesson   *controller.LessonController
	quiz     *controller.QuizController
	progress *controller.ProgressController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initServices(gen generator.Client, cfg *config.Config) *services {
	loc, _ := time.LoadLocation(cfg.Progress.Timezone)

	return &services{
		lesson: service.NewLessonService(a.Store, gen, a.runner, a.Log),
		quiz:   service.NewQuizService(a.Store, gen, quizPolicy(cfg), a.Log),
		progress: service.NewProgressService(a.Store, service.ProgressConfig{
			Location:    loc,
			PageSize:    cfg.Progress.PageSize,
			PageRetries: cfg.Progress.PageRetries,
		}, a.Log),
	}
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		lesson:   controller.NewLessonController(s.lesson),
		quiz:     controller.NewQuizController(s.quiz),
		progress: controller.NewProgressController(s.progress),
		health:   controller.NewHealthController(a.Store, a.Config.Store.Backend),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ClientIPKey))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func quizPolicy(cfg *config.Config) service.QuizPolicy {
	return service.QuizPolicy{PassingScore: cfg.Quiz.PassingScore, MaxAttempts: cfg.Quiz.MaxAttempts}
}

// NewApp 按配置连接存储与生成服务并装配路由
func NewApp(cfg *config.Config) (*App, error) {
	log := logger.InitLogger(cfg)
	log.Info("Logger initialized successfully")

	app := &App{Config: cfg, Log: log}

	switch cfg.Store.Backend {
	case config.StoreRedis:
		rdb, err := database.InitRedis(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		app.Redis = rdb
		app.Store = repository.NewRedisStore(rdb, cfg.Store.KeyPrefix)
	default:
		db, err := database.InitDB(cfg, log)
		if err != nil {
			return nil, err
		}
		app.DB = db
		app.Store = repository.NewGormStore(db)
	}

	if cfg.MigrateOnly {
		return app, nil
	}

	gen, err := generator.New(generator.OpenAIConfig{
		BaseURL:       cfg.AI.BaseURL,
		APIKey:        cfg.AI.APIKey,
		Model:         cfg.AI.Model,
		Temperature:   cfg.AI.Temperature,
		QuestionCount: cfg.AI.QuestionCount,
		TaskCount:     cfg.AI.TaskCount,
	}, cfg.AI.Timeout(), cfg.AI.MaxAttempts, log)
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("eduai-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, err
		}
		app.tracer = tp
	}

	app.build(gen)
	return app, nil
}

// NewWithBackend 使用现成的存储与生成器装配，供测试和嵌入使用
func NewWithBackend(cfg *config.Config, store Backend, gen generator.Client, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{Config: cfg, Store: store, Log: log}
	app.build(gen)
	return app
}

func (a *App) build(gen generator.Client) {
	a.runner = service.NewRunner(a.Log)
	a.services = a.initServices(gen, a.Config)
	controllers := a.initControllers(a.services)

	// 监控初始化
	monitoring.Init()

	gin.SetMode(a.Config.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	a.Router = router

	a.setupMiddlewares(router, a.Config)
	a.registerRoutes(router, controllers)

	// 及格线与最大次数支持热更新
	a.RegisterConfigCallback(func(cfg *config.Config) {
		a.services.quiz.SetPolicy(quizPolicy(cfg))
		a.Log.Info("Quiz policy reloaded",
			zap.Float64("passing_score", cfg.Quiz.PassingScore),
			zap.Int("max_attempts", cfg.Quiz.MaxAttempts))
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, callback := range a.configCallbacks {
		callback(cfg)
	}
}

// Run 启动 HTTP 服务并阻塞到收到退出信号
func (a *App) Run(configDir string) {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := configwatcher.Watch(ctx, filepath.Join(configDir, "config.yaml"), configwatcher.Options{Logger: a.Log}, a.applyConfig); err != nil {
		a.Log.Warn("Config hot reload disabled", zap.Error(err))
	}

	// 启动服务器
	go func() {
		a.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error("listen failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close(shutdownCtx)
	a.Log.Info("Server exiting")
}

// Close 等待后台生成任务结束后释放连接
func (a *App) Close(ctx context.Context) {
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			a.Log.Warn("Lesson generation interrupted by shutdown", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	_ = a.Log.Sync()
}
