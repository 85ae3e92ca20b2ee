package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/request-portal-api/api/swagger"
	"github.com/noah-isme/request-portal-api/internal/handler"
	"github.com/noah-isme/request-portal-api/internal/repository"
	"github.com/noah-isme/request-portal-api/internal/router"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/pkg/cache"
	"github.com/noah-isme/request-portal-api/pkg/config"
	"github.com/noah-isme/request-portal-api/pkg/database"
	"github.com/noah-isme/request-portal-api/pkg/jobs"
	"github.com/noah-isme/request-portal-api/pkg/lock"
	"github.com/noah-isme/request-portal-api/pkg/logger"
	"github.com/noah-isme/request-portal-api/pkg/storage"
)

// @title Request Portal API
// @version 1.0.0
// @description University request portal: lifecycle, timeline and permissions
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Lock.Backend == config.LockBackendRedis {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	files, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	requestRepo := repository.NewRequestRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	userRepo := repository.NewUserRepository(db)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockBackendRedis {
		locker = lock.NewRedisLocker(redisClient, lock.RedisLockerConfig{TTL: cfg.Lock.TTL, RetryInterval: cfg.Lock.RetryInterval})
	}

	notifier := service.NewNotificationService(service.NewLogSender(logr), metrics, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, cfg.Notifications.Enabled)

	requestSvc := service.NewRequestService(requestRepo, timelineRepo, directoryRepo, userRepo, attachmentRepo, validate, logr,
		service.WithLocker(locker),
		service.WithLockTimeout(cfg.Lock.Timeout),
		service.WithNotifier(notifier),
		service.WithTimelineCache(cacheSvc),
		service.WithRequestMetrics(metrics),
		service.WithMaxAttachments(cfg.Attachments.MaxPerEntry),
	)
	attachmentSvc := service.NewAttachmentService(attachmentRepo, files,
		storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL),
		requestSvc,
		service.AttachmentLimits{MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes, AllowedMIMEs: cfg.Attachments.AllowedMIMEs},
		logr,
	)
	exportSvc := service.NewExportService(requestSvc, userRepo, logr)
	directorySvc := service.NewDirectoryService(directoryRepo, cacheSvc, logr)
	authSvc := service.NewAuthService(userRepo, directoryRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "request-portal-api",
	})

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return database.Ready(ctx, db) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	engine := router.New(router.Dependencies{
		Logger:         logr,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Auth:           authSvc,
		Metrics:        metrics,
		Requests:       handler.NewRequestHandler(requestSvc, exportSvc),
		Attachments:    handler.NewAttachmentHandler(attachmentSvc, cfg.APIPrefix),
		Directory:      handler.NewDirectoryHandler(directorySvc),
		AuthHandler:    handler.NewAuthHandler(authSvc),
		Observe:        handler.NewMetricsHandler(metrics, checks),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("lock_backend", cfg.Lock.Backend),
			zap.Bool("timeline_cache", cacheSvc.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-errCh:
		logr.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := notifier.Stop(shutdownCtx); err != nil {
		logr.Warn("notification queue did not drain", zap.Error(err))
	}
}
