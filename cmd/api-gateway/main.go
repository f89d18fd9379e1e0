package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/instructor-dispatch-api/api/swagger"
	"github.com/noah-isme/instructor-dispatch-api/internal/handler"
	internalmiddleware "github.com/noah-isme/instructor-dispatch-api/internal/middleware"
	"github.com/noah-isme/instructor-dispatch-api/internal/repository"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	"github.com/noah-isme/instructor-dispatch-api/pkg/cache"
	"github.com/noah-isme/instructor-dispatch-api/pkg/config"
	"github.com/noah-isme/instructor-dispatch-api/pkg/database"
	"github.com/noah-isme/instructor-dispatch-api/pkg/jobs"
	"github.com/noah-isme/instructor-dispatch-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/instructor-dispatch-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/instructor-dispatch-api/pkg/middleware/requestid"
	"github.com/noah-isme/instructor-dispatch-api/pkg/notify"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

// @title Instructor Dispatch API
// @version 1.0.0
// @description Matches instructors to training slots and tracks the assignment lifecycle.
// @BasePath /api/v1
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// The quota counter lives in Redis, so Redis is required even when the distance cache is off.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	slotRepo := repository.NewSlotRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	distanceRepo := repository.NewDistanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "dispatch:", logr)
	usageRepo := repository.NewUsageCounterRepository(redisClient, "dispatch:quota:")

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.DistanceTTL, logr, cfg.Cache.Enabled)
	quotaSvc, err := service.NewQuotaService(usageRepo, cfg.Quota.DailyLimit, cfg.Quota.Timezone, metrics)
	if err != nil {
		logr.Fatal("failed to init quota service", zap.Error(err))
	}

	notifier := buildNotifier(cfg.Notifications, assignmentRepo, metrics, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	policy := service.FilterPolicy{InternMaxKm: cfg.Dispatch.InternMaxDistanceKm, SubMaxKm: cfg.Dispatch.SubMaxDistanceKm}
	candidateSvc := service.NewCandidateService(slotRepo, unitRepo, instructorRepo, distanceRepo, assignmentRepo, policy, logr)
	matcherSvc := service.NewMatcherService(service.MatcherConfig{
		DB:          db,
		Candidates:  candidateSvc,
		Assignments: assignmentRepo,
		Lock:        repository.AcquireAdvisoryLocks,
		Notifier:    notifier,
		Timeout:     cfg.Dispatch.MatcherTimeout,
		Metrics:     metrics,
		Logger:      logr,
	})
	changeSetSvc := service.NewChangeSetService(db, slotRepo, unitRepo, assignmentRepo, repository.AcquireAdvisoryLocks, metrics, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, notifier, metrics, logr)
	distanceSvc := service.NewDistanceService(service.DistanceServiceConfig{
		Store:       distanceRepo,
		Units:       unitRepo,
		Instructors: instructorRepo,
		Quota:       quotaSvc,
		Router: routing.NewHTTPClient(routing.Options{
			BaseURL: cfg.Routing.BaseURL,
			APIKey:  cfg.Routing.APIKey,
			Timeout: cfg.Routing.Timeout,
			RPS:     cfg.Routing.RPS,
			Burst:   cfg.Routing.Burst,
		}),
		Pairs:         candidateSvc,
		Cache:         cacheSvc,
		CacheTTL:      cfg.Cache.DistanceTTL,
		LookupTimeout: cfg.Routing.Timeout,
		Metrics:       metrics,
		Logger:        logr,
	})

	validate := validator.New()
	dispatchHandler := handler.NewDispatchHandler(matcherSvc, changeSetSvc, candidateSvc, validate)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc, validate)
	distanceHandler := handler.NewDistanceHandler(distanceSvc, quotaSvc, validate)
	metricsHandler := handler.NewMetricsHandler(metrics, map[string]handler.Checker{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}, notifier)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		assignments := api.Group("/assignments")
		assignments.GET("", assignmentHandler.List)
		assignments.GET("/export", assignmentHandler.Export)
		assignments.POST("/propose", dispatchHandler.Propose)
		assignments.POST("/changeset", dispatchHandler.ApplyChangeSet)
		assignments.POST("/respond", assignmentHandler.Respond)
		assignments.POST("/cancel", assignmentHandler.Cancel)
		assignments.POST("/confirm", assignmentHandler.Confirm)
		assignments.POST("/message-sent", assignmentHandler.MessageSent)

		api.GET("/candidates", dispatchHandler.Candidates)

		distances := api.Group("/distances")
		distances.GET("", distanceHandler.Get)
		distances.GET("/usage", distanceHandler.Usage)
		distances.GET("/instructors/:id/units", distanceHandler.UnitsWithin)
		distances.GET("/units/:id/instructors", distanceHandler.InstructorsWithin)
		distances.POST("/backfill", distanceHandler.Backfill)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

// buildNotifier returns nil when notifications are disabled. The service methods are nil-safe.
// Only webhook deliveries set messageSent; the log sender reaches no instructor.
func buildNotifier(cfg config.NotificationConfig, assignments *repository.AssignmentRepository, metrics *service.MetricsService, logr *zap.Logger) *service.NotificationService {
	if !cfg.Enabled {
		return nil
	}
	var sender notify.Sender = notify.LogSender(func(msg notify.Message) {
		logr.Info("assignment notification", zap.String("assignment_id", msg.AssignmentID),
			zap.String("event", msg.Event), zap.String("classification", msg.Classification))
	})
	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: time.Second,
	}
	if cfg.WebhookURL == "" {
		return service.NewNotificationService(sender, queueCfg, metrics, logr)
	}
	sender = notify.NewWebhookSender(cfg.WebhookURL, cfg.Timeout)
	return service.NewNotificationService(sender, queueCfg, metrics, logr).WithDeliveryRecorder(assignments)
}
