package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/handlers"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/migrations"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/routes"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/workers"
	"trustwork_backend/pkg/apperrors"
	"trustwork_backend/ws"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	hubBuffer       = 256
	shutdownTimeout = 15 * time.Second
)

// Run поднимает сервис и блокируется до SIGINT/SIGTERM
func Run() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)
	apperrors.SetDebug(!cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Server stopped with error", "error", err)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	gormDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get *sql.DB from GORM: %w", err)
	}
	defer sqlDB.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(sqlDB); err != nil {
			return err
		}
	}
	if err := seedAdminProfile(ctx, gormDB, cfg); err != nil {
		return fmt.Errorf("seed admin profile: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := realtime.NewHub(hubBuffer)
	if cfg.Redis.Addr != "" {
		rdb := realtime.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		bridge := realtime.NewRedisBridge(rdb, cfg.Redis.Channel, hub)
		hub.SetRelay(bridge)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	container := services.NewServiceContainer(cfg, services.Infrastructure{
		DB:        gormDB,
		Processor: gateway.New(cfg.Gateway.Mode, gatewayConfig(cfg)),
		Mailer:    newMailer(cfg),
		Hub:       hub,
	})
	logger.Info("Services initialized", "gateway_mode", cfg.Gateway.Mode)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	scheduler := workers.NewScheduler(workers.DefaultTimeout)
	if err := workers.Register(scheduler, cfg, gormDB, container); err != nil {
		return err
	}
	if err := scheduler.Add("@every 5m", workers.NewFuncJob("rate_limit_cleanup", func(context.Context) error {
		limiter.Cleanup()
		return nil
	})); err != nil {
		return err
	}
	g.Go(func() error { return scheduler.Run(gctx) })

	if cfg.Database.ListenForOutbox {
		listener := events.NewListener(cfg.Database.DSN, container.Dispatcher)
		g.Go(func() error { return listener.Run(gctx) })
	}

	wsManager := ws.NewWebSocketManager()
	g.Go(func() error { return wsManager.Run(gctx) })
	wsHandler := ws.NewWebSocketHandler(wsManager, hub, container.NotificationService, cfg.Server.AllowedOrigins)

	tokens := auth.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.TTL)*time.Minute)
	router := SetupRouter(cfg, gormDB, container, wsHandler,
		middleware.AuthMiddleware(tokens, container.ProfileRepo, gormDB),
		limiter.Middleware(),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Server starting on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server startup error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	logger.Info("Connecting to database...")
	gormCfg := &gorm.Config{}
	if cfg.IsProduction() {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to GORM: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get *sql.DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	logger.Info("Database connected")
	return gormDB, nil
}

// SetupRouter собирает gin с общими middleware и маршрутами.
// protected навешивается на закрытую часть API и websocket.
func SetupRouter(cfg *config.Config, gormDB *gorm.DB, container *services.ServiceContainer, wsHandler *ws.WebSocketHandler, protected ...gin.HandlerFunc) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(middleware.DBMiddleware(gormDB))
	if cfg.Server.RequestTimeout > 0 {
		router.Use(middleware.TimeoutMiddleware(time.Duration(cfg.Server.RequestTimeout) * time.Second))
	}

	appHandlers := handlers.NewAppHandlers(container, gormDB)
	routes.RegisterRoutes(router, appHandlers, wsHandler, protected...)
	return router
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	notifyURL := cfg.Gateway.NotifyURL
	if notifyURL == "" {
		notifyURL = strings.TrimRight(cfg.Server.PublicURL, "/") + "/api/v1/payments/callback"
	}
	return gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		MerchantID: cfg.Gateway.MerchantID,
		SecretKey:  cfg.Gateway.SecretKey,
		ReturnURL:  cfg.Gateway.ReturnURL,
		CancelURL:  cfg.Gateway.CancelURL,
		NotifyURL:  notifyURL,
		Timeout:    time.Duration(cfg.Gateway.Timeout) * time.Second,
		RPS:        cfg.Gateway.RPS,
		Burst:      cfg.Gateway.Burst,
	}
}

// seedAdminProfile создает профиль первого администратора, если он задан в конфиге
func seedAdminProfile(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	if cfg.Admin.ProfileID == "" {
		logger.Warn("FIRST_ADMIN_ID is not set. Skipping admin seeding.")
		return nil
	}

	profiles := repositories.NewProfileRepository()
	db = db.WithContext(ctx)

	existing, err := profiles.FindByID(db, cfg.Admin.ProfileID)
	switch {
	case err == nil:
		if existing.Role != models.RoleAdmin {
			logger.Warn("Configured admin profile exists with another role", "profile_id", existing.ID, "role", existing.Role)
		}
		return nil
	case !errors.Is(err, repositories.ErrNotFound):
		return err
	}

	admin := &models.Profile{
		Role:        models.RoleAdmin,
		DisplayName: cfg.Admin.DisplayName,
		Verified:    true,
	}
	admin.ID = cfg.Admin.ProfileID
	if cfg.Admin.Email != "" {
		email := cfg.Admin.Email
		admin.Email = &email
	}
	if err := profiles.Create(db, admin); err != nil {
		return err
	}
	logger.Info("Created first admin profile", "profile_id", admin.ID)
	return nil
}
