// Package main runs the background job worker (analytics refresh, report
// export to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seatsync/backend/config"
	"github.com/seatsync/backend/internal/analytics"
	"github.com/seatsync/backend/internal/auth"
	"github.com/seatsync/backend/internal/booking"
	"github.com/seatsync/backend/internal/events"
	"github.com/seatsync/backend/internal/worker"
	"github.com/seatsync/backend/pkg/database"
	"github.com/seatsync/backend/pkg/queue"
	"github.com/seatsync/backend/pkg/redis"
	"github.com/seatsync/backend/pkg/storage"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var uploader worker.ReportUploader
	if cfg.AWS.ReportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			uploader = s3Client
		}
	} else {
		logger.Warn("AWS_S3_REPORTS_BUCKET not set; report exports will fail")
	}

	ledger := booking.NewPostgresStore(pool)
	svc := analytics.NewService(
		events.NewRepository(pool),
		ledger,
		auth.NewRepository(pool),
		analytics.NewRedisCache(rdb.Client, cfg.Analytics.CacheTTL),
		logger,
	)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(jobQueue, svc, uploader, analytics.NewRedisExportStore(rdb.Client), logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
