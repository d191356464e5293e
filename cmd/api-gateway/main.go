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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/instructor-availability-api/api/swagger"
	"github.com/noah-isme/instructor-availability-api/internal/handler"
	"github.com/noah-isme/instructor-availability-api/internal/middleware"
	"github.com/noah-isme/instructor-availability-api/internal/repository"
	"github.com/noah-isme/instructor-availability-api/internal/service"
	"github.com/noah-isme/instructor-availability-api/pkg/cache"
	"github.com/noah-isme/instructor-availability-api/pkg/config"
	"github.com/noah-isme/instructor-availability-api/pkg/database"
	"github.com/noah-isme/instructor-availability-api/pkg/jobs"
	"github.com/noah-isme/instructor-availability-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/instructor-availability-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/instructor-availability-api/pkg/middleware/requestid"
)

// @title Instructor Availability API
// @version 1.0.0
// @description Weekly instructor availability with optimistic concurrency
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 10 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, using in-process cache", zap.Error(err))
		cacheRepo = repository.NewMemoryCacheRepository(cache.NewMemory(cfg.Cache.WarmTTL))
	} else {
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, logr, service.CacheOptions{
		Enabled:  cfg.Cache.Enabled,
		HotTTL:   cfg.Cache.HotTTL,
		WarmTTL:  cfg.Cache.WarmTTL,
		HotWeeks: cfg.Cache.HotWeeks,
	})

	queue := jobs.NewQueue("cache-invalidation", jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})

	dayRepo := repository.NewAvailabilityDayRepository(db, metricsSvc)
	settingsRepo := repository.NewInstructorSettingsRepository(db)

	settingsSvc := service.NewAvailabilitySettingsService(settingsRepo, cfg.Availability, logr)
	availabilitySvc := service.NewAvailabilityService(dayRepo, settingsSvc, cacheSvc, queue, metricsSvc, nil, logr,
		service.AvailabilityServiceConfig{MaxRangeDays: cfg.Availability.MaxRangeDays})

	queue.Handle(service.CacheInvalidationJob, availabilitySvc.HandleCacheInvalidation)
	queue.Start(ctx)
	defer queue.Stop()

	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc, settingsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	instructors := api.Group("/instructors/:id/availability")
	instructors.GET("/week", availabilityHandler.GetWeek)
	instructors.PUT("/week", availabilityHandler.SaveWeek)
	instructors.GET("/version", availabilityHandler.GetVersion)
	instructors.POST("/copy-week", availabilityHandler.CopyWeek)
	instructors.POST("/apply-pattern", availabilityHandler.ApplyPattern)
	instructors.GET("/check", availabilityHandler.Check)
	instructors.GET("/settings", availabilityHandler.GetSettings)
	instructors.PUT("/settings", availabilityHandler.UpdateSettings)
	instructors.DELETE("", availabilityHandler.Reset)
	api.GET("/public/instructors/:id/availability", availabilityHandler.Public)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
