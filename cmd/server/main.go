// Package main runs the seat booking HTTP server with WebSocket seat feeds
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seatsync/backend/config"
	"github.com/seatsync/backend/internal/analytics"
	"github.com/seatsync/backend/internal/auth"
	"github.com/seatsync/backend/internal/booking"
	bookingmetrics "github.com/seatsync/backend/internal/booking/metrics"
	"github.com/seatsync/backend/internal/events"
	"github.com/seatsync/backend/internal/middleware"
	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/internal/realtime"
	"github.com/seatsync/backend/internal/registrations"
	"github.com/seatsync/backend/pkg/database"
	"github.com/seatsync/backend/pkg/queue"
	"github.com/seatsync/backend/pkg/redis"
	"github.com/seatsync/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis disabled: no job queue, analytics cache or cross-instance realtime")
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime
	var hub *realtime.Hub
	var jobQueue *queue.Queue
	var cache analytics.Cache
	var exports analytics.ExportStore
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
		jobQueue = queue.NewQueue(rdb.Client, logger)
		cache = analytics.NewRedisCache(rdb.Client, cfg.Analytics.CacheTTL)
		exports = analytics.NewRedisExportStore(rdb.Client)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Booking engine
	bookingMetrics := bookingmetrics.New(prometheus.DefaultRegisterer)
	coord := booking.NewCoordinator(booking.NewPostgresStore(pool), booking.Config{
		MaxAttempts:  cfg.Booking.MaxAttempts,
		RetryBackoff: cfg.Booking.RetryBackoff,
	}, logger, hub, bookingMetrics)
	coord.SetObserver(bookingMetrics)
	var refresh *analytics.RefreshNotifier
	if jobQueue != nil {
		refresh = analytics.NewRefreshNotifier(jobQueue, logger)
		coord.AddNotifier(refresh)
	}

	// Auth
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, cfg.Admin.Email, logger)
	if refresh != nil {
		authHandler.AddNotifier(refresh)
	}

	// Events and bookings
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo, hub, logger)
	if refresh != nil {
		eventHandler.AddNotifier(refresh)
	}
	registrationHandler := registrations.NewHandler(coord, registrations.NewRepository(pool), logger)

	// Analytics
	analyticsSvc := analytics.NewService(eventRepo, coord, userRepo, cache, logger)
	var exportJobs analytics.ExportEnqueuer
	if jobQueue != nil {
		exportJobs = jobQueue
	}
	analyticsHandler := analytics.NewHandler(analyticsSvc, exportJobs, exports, logger)

	wsValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	wsSnapshot := func(ctx context.Context, eventID uuid.UUID) (interface{}, error) {
		ev, err := coord.Event(ctx, eventID)
		if err != nil {
			return nil, err
		}
		return ev, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "database": "ok"}
		if err := pool.Ping(c.Request.Context()); err != nil {
			status["database"] = "unavailable"
			status["status"] = "degraded"
		}
		if rdb != nil && !rdb.Healthy(c.Request.Context()) {
			status["redis"] = "unavailable"
			status["status"] = "degraded"
		}
		response.OK(c, status)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	admin := middleware.RequireRole(models.RoleAdmin)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", admin, authHandler.List)

		// Events
		api.GET("/events", eventHandler.List)
		api.POST("/events", admin, eventHandler.Create)
		api.GET("/events/:id", eventHandler.Get)
		api.PATCH("/events/:id", admin, eventHandler.Update)
		api.PATCH("/events/:id/status", admin, eventHandler.UpdateStatus)

		// Bookings
		api.POST("/events/:id/register", registrationHandler.Register)
		api.DELETE("/events/:id/register", registrationHandler.Cancel)
		api.GET("/events/:id/booking", registrationHandler.State)
		api.GET("/events/:id/conflicts", registrationHandler.Conflicts)
		api.GET("/events/:id/registrations", admin, registrationHandler.Roster)
		api.GET("/events/:id/waitlist", admin, registrationHandler.Waitlist)
		api.GET("/me/registrations", registrationHandler.MyRegistrations)
		api.GET("/me/waitlist", registrationHandler.MyWaitlist)
		api.GET("/me/compliance", analyticsHandler.MyCompliance)

		// Analytics and reports
		api.GET("/admin/analytics/events", admin, analyticsHandler.Events)
		api.GET("/admin/analytics/compliance", admin, analyticsHandler.Compliance)
		api.POST("/admin/reports/export", admin, analyticsHandler.Export)
		api.GET("/admin/reports/:id", admin, analyticsHandler.ExportStatus)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate, wsSnapshot, cfg.Server.CORSAllowedOrigins))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Cross-instance realtime relay
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil {
			logger.Error("realtime relay stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	hubCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
