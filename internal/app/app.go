package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"progression_engine/internal/config"
	"progression_engine/internal/controller"
	"progression_engine/internal/repository"
	"progression_engine/internal/service"
	"progression_engine/pkg/configwatcher"
	"progression_engine/pkg/database"
	"progression_engine/pkg/evaluator"
	"progression_engine/pkg/events"
	"progression_engine/pkg/logger"
	"progression_engine/pkg/monitoring"
	"progression_engine/pkg/security"
	"progression_engine/pkg/tracing"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher

	services        *services
	tracer          *sdktrace.TracerProvider
	mu              sync.Mutex
	configCallbacks []func(*config.Config)
}

// Deps 外部依赖，测试中可直接注入
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client // 为 nil 时使用进程内锁和缓存
	Evaluator service.OpenAnswerEvaluator
	Publisher events.Publisher
}

type repositories struct {
	quiz     *repository.QuizRepository
	bank     *repository.QuestionBankRepository
	score    *repository.ScoreRepository
	progress *repository.ProgressRepository
}

type services struct {
	catalog    *service.ConfigCatalog
	grader     *service.QuizGrader
	progress   *service.ProgressService
	score      *service.ScoreService
	assessment *service.AssessmentService
	importer   *service.BankImporter
}

type controllers struct {
	assessment *controller.AssessmentController
	progress   *controller.ProgressController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		quiz:     repository.NewQuizRepository(db),
		bank:     repository.NewQuestionBankRepository(db),
		score:    repository.NewScoreRepository(db),
		progress: repository.NewProgressRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, deps Deps) *services {
	s := &services{}

	s.catalog = service.NewConfigCatalog(cfg.Catalog)
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.catalog.Update(newCfg.Catalog)
	})

	var locker service.Locker
	var cache service.GradeCache
	if deps.Redis != nil {
		locker = service.NewRedisLocker(deps.Redis, cfg.Progression.LockTTL(), cfg.Progression.LockWait())
		cache = service.NewRedisGradeCache(deps.Redis, cfg.Progression.GradeCacheTTL())
	} else {
		locker = service.NewMemoryLocker(cfg.Progression.LockWait())
		cache = service.NewMemoryGradeCache(cfg.Progression.GradeCacheTTL())
	}

	s.grader = service.NewQuizGrader(deps.Evaluator)
	s.progress = service.NewProgressService(deps.DB, repos.progress, repos.score, s.catalog, locker, deps.Publisher)
	s.score = service.NewScoreService(s.progress, repos.quiz, repos.score, s.catalog)
	s.assessment = service.NewAssessmentService(repos.quiz, repos.bank, s.catalog, s.grader, s.score, s.progress, cache, deps.Publisher)
	s.importer = service.NewBankImporter(repos.bank, s.catalog)
	return s
}

func (a *App) initControllers(s *services, deps Deps) *controllers {
	return &controllers{
		assessment: controller.NewAssessmentController(s.assessment),
		progress:   controller.NewProgressController(s.progress, s.score),
		health:     controller.NewHealthController(deps.DB, deps.Redis),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 使用给定依赖组装应用，不建立任何外部连接
func New(cfg *config.Config, deps Deps) *App {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}

	app := &App{
		Config:    cfg,
		DB:        deps.DB,
		Redis:     deps.Redis,
		Publisher: deps.Publisher,
	}

	repos := app.initRepositories(deps.DB)
	app.services = app.initServices(repos, cfg, deps)
	controllers := app.initControllers(app.services, deps)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	return app
}

// NewApp 按配置连接数据库、Redis、评判服务和消息队列
func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	deps := Deps{DB: db}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
		deps.Redis = rdb
	}

	if cfg.Evaluator.APIKey != "" {
		llm, err := evaluator.NewLLMEvaluator(cfg.Evaluator)
		if err != nil {
			logger.Log.Fatal("Failed to initialize evaluator", zap.Error(err))
		}
		deps.Evaluator = llm
	} else {
		logger.Log.Warn("Evaluator API key not configured, quizzes with open questions cannot be graded")
	}

	publisher, err := events.New(cfg.Events)
	if err != nil {
		logger.Log.Fatal("Failed to initialize event publisher", zap.Error(err))
	}
	deps.Publisher = publisher

	app := New(cfg, deps)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}
	return app
}

// ImportBank 导入题库文件，供命令行使用
func (a *App) ImportBank(ctx context.Context, f *service.BankFile) (int, error) {
	return a.services.importer.Import(ctx, f)
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if a.Config.ConfigFile != "" {
		go func() {
			if err := configwatcher.Watch(watchCtx, a.Config.ConfigFile, time.Second, a.applyConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close(ctx)
	logger.Log.Info("Server exiting")
}

// Close 释放外部连接
func (a *App) Close(ctx context.Context) {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			logger.Log.Error("Failed to close event publisher", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
