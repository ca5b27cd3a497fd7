// Package main runs the leak viewer HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gaslight/leakview/config"
	"github.com/gaslight/leakview/internal/auth"
	"github.com/gaslight/leakview/internal/middleware"
	"github.com/gaslight/leakview/internal/realtime"
	"github.com/gaslight/leakview/internal/session"
	"github.com/gaslight/leakview/internal/sessionlog"
	"github.com/gaslight/leakview/internal/transport"
	"github.com/gaslight/leakview/internal/viewer"
	"github.com/gaslight/leakview/pkg/database"
	"github.com/gaslight/leakview/pkg/queue"
	"github.com/gaslight/leakview/pkg/redis"
	"github.com/gaslight/leakview/pkg/response"
	"github.com/gaslight/leakview/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Attempt history (optional)
	var attemptStore sessionlog.Store
	var attemptLister sessionlog.Lister
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		repo := sessionlog.NewRepository(pool)
		attemptStore, attemptLister = repo, repo
	} else {
		logger.Info("DATABASE_URL not set, attempt history disabled")
	}

	// Redis fan-out and archive jobs (optional)
	var hub *realtime.Hub
	var archiver sessionlog.Archiver
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
		archiver = queue.NewQueue(rdb.Client, logger)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
		logger.Info("REDIS_ADDR not set, running single instance without archiving")
	}
	go hub.Run(ctx)

	submitter, err := transport.NewHTTPSubmitter(cfg.Analysis.BaseURL, cfg.Analysis.Timeout, logger)
	if err != nil {
		logger.Fatal("analysis service url", zap.Error(err))
	}

	recorder := sessionlog.NewRecorder(attemptStore, archiver, logger)
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(ctx)
	}()

	sessions := session.NewRegistry(session.Config{
		Transport: submitter,
		Origin:    submitter.Origin(),
		Observers: []session.Observer{hub.SessionObserver(), recorder.Observer()},
		Logger:    logger,
	})

	spool, err := viewer.NewSpool(cfg.Upload.TempDir, cfg.Upload.MaxBytes)
	if err != nil {
		logger.Fatal("upload spool", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	viewerHandler := viewer.NewHandler(ctx, sessions, jwtService, hub, spool, logger)
	viewerHandler.SetUploadTimeout(cfg.Upload.Timeout)
	var attemptsHandler *sessionlog.Handler
	if attemptLister != nil {
		var presigner sessionlog.Presigner
		if cfg.AWS.Enabled() {
			s3Client, err := storage.NewS3(ctx, storage.S3Config{
				Region:               cfg.AWS.Region,
				AccessKeyID:          cfg.AWS.AccessKeyID,
				SecretAccessKey:      cfg.AWS.SecretAccessKey,
				ArchiveBucket:        cfg.AWS.ArchiveBucket,
				PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
			}, logger)
			if err != nil {
				logger.Warn("s3 disabled, archive links unavailable", zap.Error(err))
			} else {
				presigner = s3Client
			}
		}
		attemptsHandler = sessionlog.NewHandler(attemptLister, presigner)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.MaxMultipartMemory = 32 << 20

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "sessions": sessions.Len()})
	})

	viewerHandler.Mount(router, attemptsHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("analysis_url", cfg.Analysis.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	viewerHandler.Shutdown()
	sessions.CloseAll()
	stop()
	<-recorderDone
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
