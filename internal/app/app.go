package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"odin-backtester/api"
	"odin-backtester/internal/config"
	"odin-backtester/internal/engine"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/job"
	"odin-backtester/internal/push"
	"odin-backtester/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App defines the application structure and its dependencies
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *gorm.DB
	Timeseries   *pgxpool.Pool
	Redis        *redis.Client
	NC           *nats.Conn
	JS           nats.JetStreamContext
	PushGateway  *push.PushGateway
	Orchestrator *job.Orchestrator
	HTTPServer   *http.Server
}

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	infrastructure.Init(cfg.LogLevel)
	logger := infrastructure.Logger

	return &App{
		Config: &cfg,
		Logger: logger,
	}, nil
}

// Init initializes all application components. Only the bar source is
// mandatory; the job store and NATS degrade to in-memory operation.
func (a *App) Init(ctx context.Context) error {
	// 1. Job store
	if a.Config.DBType != "none" {
		db, err := storage.OpenDB(storage.DBConfig{
			Type:            a.Config.DBType,
			DSN:             a.Config.DB_DSN,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			LogLevel:        "warn",
		})
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		a.DB = db
	}

	// 2. Bar data
	source, err := a.newBarSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize bar source: %w", err)
	}

	// 3. NATS
	var sub push.Subscriber
	if a.Config.NatsURL != "" {
		nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
		if err != nil {
			a.Logger.Warn("NATS unavailable, job events stay in-process", zap.Error(err))
		} else {
			a.NC = nc
			a.JS = js
			sub = push.NewJetStreamSubscriber(js)
		}
	}

	// 4. Services
	a.PushGateway = push.NewPushGateway(sub, a.Logger)
	a.Orchestrator = job.NewOrchestrator(a.jobConfig(), source, a.repository(), a.eventPublisher(), a.Logger)

	return nil
}

func (a *App) jobConfig() job.Config {
	cfg := job.DefaultConfig()
	cfg.Workers = a.Config.MaxConcurrentJobs
	cfg.QueueSize = a.Config.JobQueueSize
	cfg.Timeout = a.Config.JobTimeout
	cfg.DefaultSymbol = a.Config.DefaultSymbol
	cfg.Costs = engine.Costs{FeeRate: a.Config.FeeRate, Slippage: a.Config.Slippage}
	cfg.Strategy.RiskPerTrade = a.Config.RiskPerTrade
	return cfg
}

func (a *App) repository() job.Repository {
	if a.DB == nil {
		return nil
	}
	return storage.NewJobRepository(a.DB)
}

// Run starts the application services and the HTTP server
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Orchestrator.Start(ctx)

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown()
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// in-flight runs end as cancelled and are recorded before the store closes
	a.Orchestrator.Stop()

	if a.NC != nil {
		a.NC.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Timeseries != nil {
		a.Timeseries.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.Logger.Sync()
	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandler := api.NewHandler(a.Orchestrator, a.Logger)
	apiHandler.Routes(r.Group("/api/backtest"), api.RateLimit(a.Config.SubmitRateLimit, a.Config.SubmitBurst))

	r.GET("/ws", func(c *gin.Context) {
		a.PushGateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}
