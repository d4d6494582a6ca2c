package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/edgeward/fleet-backend/internal/data/db"
	"github.com/edgeward/fleet-backend/internal/http"
	"github.com/edgeward/fleet-backend/internal/jobs/monitor"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/platform/redisx"
	"github.com/edgeward/fleet-backend/internal/realtime"
	"github.com/edgeward/fleet-backend/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics
	Bus      bus.Bus
	Hub      *realtime.Hub

	dbService    *db.Service
	lockClient   *goredis.Client
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	metrics := observability.Init(log)
	otelCfg := observability.LoadOtelConfig(log)
	otelCfg.ServiceName, otelCfg.Environment, otelCfg.Version = cfg.ServiceName, cfg.Environment, cfg.Version
	otelShutdown := observability.InitOTel(ctx, log, otelCfg)

	dbService, err := db.NewService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := dbService.DB()

	b, err := bus.New(log, metrics)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init bus: %w", err)
	}
	hub := realtime.NewHub(log, metrics)

	lock := monitor.NewSoloLock()
	var lockClient *goredis.Client
	if redisx.Configured(log) {
		lockClient, err = redisx.Open(log)
		if err != nil {
			_ = b.Close()
			log.Sync()
			return nil, fmt.Errorf("init monitor lock: %w", err)
		}
		lock = monitor.NewRedisLock(lockClient, monitor.DefaultLockKey, cfg.Monitor.LockTTL)
	}

	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, cfg, reposet, metrics, b, hub, lock)
	handlerset := wireHandlers(log, theDB, serviceset)
	middleware := wireMiddleware(log, cfg)
	router := wireRouter(log, cfg, metrics, handlerset, middleware)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		Bus:          b,
		Hub:          hub,
		dbService:    dbService,
		lockClient:   lockClient,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves HTTP and runs the monitor and bus forwarder until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Bus.StartForwarder(ctx, func(m realtime.Message) {
		a.Hub.Broadcast(m)
	}); err != nil {
		return fmt.Errorf("start bus forwarder: %w", err)
	}
	a.Metrics.StartDBCollector(ctx, a.Log, a.DB)

	g.Go(func() error {
		return a.Services.Monitor.Run(ctx)
	})
	g.Go(func() error {
		addr := ":" + a.Cfg.Port
		a.Log.Info("Server listening", "addr", addr)
		return (&http.Server{Engine: a.Router}).Run(ctx, addr)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("bus close failed", "error", err)
		}
	}
	if a.lockClient != nil {
		_ = a.lockClient.Close()
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
