package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/docuflow/scan-ingest/api/swagger"
	"github.com/docuflow/scan-ingest/internal/blob"
	"github.com/docuflow/scan-ingest/internal/docstore"
	"github.com/docuflow/scan-ingest/internal/handler"
	"github.com/docuflow/scan-ingest/internal/lease"
	"github.com/docuflow/scan-ingest/internal/middleware"
	"github.com/docuflow/scan-ingest/internal/ocr"
	"github.com/docuflow/scan-ingest/internal/queue"
	"github.com/docuflow/scan-ingest/internal/repository"
	"github.com/docuflow/scan-ingest/internal/service"
	"github.com/docuflow/scan-ingest/internal/validation"
	"github.com/docuflow/scan-ingest/internal/worker"
	"github.com/docuflow/scan-ingest/pkg/cache"
	"github.com/docuflow/scan-ingest/pkg/config"
	"github.com/docuflow/scan-ingest/pkg/database"
	"github.com/docuflow/scan-ingest/pkg/logger"
	corsmiddleware "github.com/docuflow/scan-ingest/pkg/middleware/cors"
	reqidmiddleware "github.com/docuflow/scan-ingest/pkg/middleware/requestid"
)

// @title Scan Ingest API
// @version 1.0.0
// @description Bulk-scan envelope ingestion service
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close()

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobRootDir)
	if err != nil {
		logr.Sugar().Fatalw("blob store init failed", "error", err)
	}

	parser, err := validation.NewMetadataParser()
	if err != nil {
		logr.Sugar().Fatalw("metadata schema init failed", "error", err)
	}

	envelopes := repository.NewEnvelopeRepository(db)
	events := repository.NewProcessEventRepository(db)

	leases := lease.NewCoordinator(redisClient, cfg.Storage.LeaseTTL, logr)

	var readyQueue, errorQueue, processedQueue queue.Queue
	if cfg.Notifications.Enabled {
		readyQueue = queue.NewRedisQueue(redisClient, cfg.Notifications.ReadyQueue, cfg.Notifications.RedeliveryTimeout)
		errorQueue = queue.NewRedisQueue(redisClient, cfg.Notifications.ErrorQueue, cfg.Notifications.RedeliveryTimeout)
		processedQueue = queue.NewRedisQueue(redisClient, cfg.Notifications.ProcessedQueue, cfg.Notifications.RedeliveryTimeout)
	} else {
		readyQueue = queue.NopQueue{}
		errorQueue = queue.NopQueue{}
		processedQueue = queue.NopQueue{}
	}

	docs := docstore.NewClient(cfg.Upload.DocumentStoreURL, cfg.Upload.Timeout)
	ocrClient := ocr.NewClient(cfg.Ocr.Timeout, cfg.Ocr.AuthToken)

	metricsSvc := service.NewMetricsService()

	rejections := service.NewRejectionService(events, blobs, errorQueue, cfg.Storage.RejectedContainer, logr)
	processor := service.NewEnvelopeProcessor(envelopes, events, blobs, leases, parser, ocrClient, rejections,
		cfg.Containers, cfg.Notifications.StaleTimeout, logr,
		service.WithProcessorMetrics(metricsSvc))
	uploads := service.NewUploadService(envelopes, events, blobs, docs,
		cfg.Upload.Cooldown, cfg.Upload.MaxRetries, cfg.Upload.BatchSize, logr,
		service.WithUploadMetrics(metricsSvc))
	notifications := service.NewNotificationService(envelopes, events, blobs, leases, readyQueue, processedQueue, logr,
		service.WithNotificationMetrics(metricsSvc))
	reconciliation := service.NewReconciliationService(envelopes, logr)
	reports := service.NewReportService(events, reconciliation, logr)
	queries := service.NewEnvelopeQueryService(envelopes, events, logr)
	auth := service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logr)

	envelopeHandler := handler.NewEnvelopeHandler(queries, processor)
	reportHandler := handler.NewReportHandler(reports)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "database"})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/envelopes", envelopeHandler.List)
		api.GET("/envelopes/:id", envelopeHandler.Get)
		api.GET("/envelopes/:id/events", envelopeHandler.History)
		api.GET("/reports/rejected", reportHandler.Rejected)
		if cfg.Reconciliation.Enabled {
			api.POST("/reports/reconciliation", reportHandler.Reconcile)
		}

		authed := api.Group("", middleware.JWT(auth))
		authed.PUT("/envelopes/:id/status", envelopeHandler.UpdateStatus)
		authed.POST("/envelopes/:id/retrigger", envelopeHandler.Retrigger)
	}

	tasks := make([]worker.Task, 0, 4)
	if cfg.Scheduler.Enabled {
		tasks = append(tasks,
			worker.Task{Name: "scan-containers", Interval: cfg.Scheduler.ScanInterval, Run: processor.ScanContainers},
			worker.Task{Name: "upload-documents", Interval: cfg.Scheduler.UploadInterval, Run: uploads.ProcessReadyEnvelopes},
		)
		if cfg.Notifications.Enabled {
			tasks = append(tasks,
				worker.Task{Name: "publish-ready", Interval: cfg.Scheduler.NotifyInterval, Run: notifications.PublishReady},
				worker.Task{Name: "consume-acknowledgements", Interval: cfg.Scheduler.ConsumeInterval, Run: func(ctx context.Context) error {
					return notifications.ConsumeAcknowledgements(ctx, cfg.Scheduler.ConsumeBatchSize)
				}},
			)
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := worker.NewScheduler(logr, tasks...)
	scheduler.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
