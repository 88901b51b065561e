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
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/handler"
	"github.com/noah-isme/kg-enroll-api/internal/middleware"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	"github.com/noah-isme/kg-enroll-api/internal/service"
	"github.com/noah-isme/kg-enroll-api/pkg/cache"
	"github.com/noah-isme/kg-enroll-api/pkg/config"
	"github.com/noah-isme/kg-enroll-api/pkg/database"
	"github.com/noah-isme/kg-enroll-api/pkg/export"
	"github.com/noah-isme/kg-enroll-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/kg-enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kg-enroll-api/pkg/middleware/requestid"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Stats caching degrades to direct reads when redis is down.
		logr.Sugar().Warnw("redis unavailable, quota stats cache disabled", "error", err)
		redisClient = nil
	}

	quotaRepo := repository.NewQuotaRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, cfg.Database.TxTimeout)
	materialRepo := repository.NewMaterialRepository(db)
	admissionRepo := repository.NewAdmissionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	pdfExporter := export.NewPDFExporter()
	csvExporter := export.NewCSVExporter()

	notificationSvc := service.NewNotificationService(
		notificationRepo,
		service.NewLogSender(logr),
		pdfExporter,
		metricsSvc,
		cfg.Notifications.Workers,
		cfg.Notifications.MaxRetries,
		cfg.Notifications.RetryDelay,
		logr,
	)
	workflowSvc := service.NewWorkflowService(applicationRepo, ledgerRepo, materialRepo,
		notificationSvc, auditRepo, metricsSvc, validate, logr)
	allocationSvc := service.NewAllocationService(applicationRepo, ledgerRepo, quotaRepo,
		cacheRepo, auditRepo, metricsSvc, cfg.Allocation.Rolling, logr)
	quotaSvc := service.NewQuotaService(quotaRepo, cacheRepo, auditRepo,
		cfg.Quota.StatsCacheTTL, validate, logr)
	exportSvc := service.NewExportService(admissionRepo, applicationRepo,
		pdfExporter, csvExporter, logr)

	if cfg.Notifications.Enabled {
		notificationSvc.Start(ctx)
		defer notificationSvc.Stop()
		go drainLoop(ctx, notificationSvc, cfg.Notifications.DrainInterval, logr)
	}

	if cfg.Allocation.CronSpec != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.Allocation.CronSpec, func() {
			allocationSvc.RunAllPlans(ctx, "scheduled")
		}); err != nil {
			logr.Sugar().Fatalw("invalid allocation cron spec", "spec", cfg.Allocation.CronSpec, "error", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	applicationHandler := handler.NewApplicationHandler(workflowSvc, admissionRepo)
	quotaHandler := handler.NewQuotaHandler(quotaSvc)
	allocationHandler := handler.NewAllocationHandler(allocationSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc, workflowSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	{
		quotas := api.Group("/quotas")
		{
			quotas.POST("", quotaHandler.Create)
			quotas.GET("", quotaHandler.List)
			quotas.GET("/:id", quotaHandler.Get)
			quotas.PUT("/:id", quotaHandler.Update)
			quotas.DELETE("/:id", quotaHandler.Archive)
		}
		api.GET("/plans/:planId/quota-stats", quotaHandler.PlanStats)

		applications := api.Group("/applications")
		{
			applications.POST("", applicationHandler.Create)
			applications.GET("", applicationHandler.List)
			applications.GET("/:id", applicationHandler.Get)
			applications.POST("/:id/submit", applicationHandler.Submit)
			applications.POST("/:id/materials", applicationHandler.AddMaterial)
			applications.GET("/:id/materials/check", applicationHandler.CheckMaterials)
			applications.POST("/:id/materials/verify", applicationHandler.VerifyMaterials)
			applications.POST("/:id/review", applicationHandler.StartReview)
			applications.POST("/:id/decide", applicationHandler.Decide)
			applications.POST("/:id/withdraw", applicationHandler.Withdraw)
			applications.POST("/:id/transfer", applicationHandler.Transfer)
			applications.POST("/:id/reverse", applicationHandler.Reverse)
			applications.POST("/:id/notify", applicationHandler.Notify)
			applications.GET("/:id/notification", notificationHandler.GetByApplication)
			applications.GET("/:id/admission-letter", notificationHandler.AdmissionLetter)
		}
		api.POST("/materials/:materialId/verify", applicationHandler.VerifyMaterial)

		api.POST("/allocations/run", allocationHandler.Run)

		notifications := api.Group("/notifications")
		{
			notifications.GET("/:id", notificationHandler.Get)
			notifications.POST("/drain", notificationHandler.Drain)
			notifications.POST("/:id/delivered", notificationHandler.MarkDelivered)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
		}

		if cfg.Exports.Enabled {
			api.GET("/plans/:planId/admissions/export", exportHandler.AdmissionRoster)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}

// drainLoop periodically re-enqueues stuck outbox rows so notifications
// survive dispatcher crashes and restarts.
func drainLoop(ctx context.Context, svc *service.NotificationService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := svc.DrainPending(ctx, 100)
			if err != nil {
				logr.Sugar().Warnw("outbox drain failed", "error", err)
				continue
			}
			if count > 0 {
				logr.Sugar().Infow("outbox drained", "enqueued", count)
			}
		}
	}
}
