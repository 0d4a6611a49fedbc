package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transfer-service/config"
	"transfer-service/internal/api"
	"transfer-service/internal/auth"
	"transfer-service/internal/broker"
	"transfer-service/internal/clock"
	"transfer-service/internal/provider"
	"transfer-service/internal/redisclient"
	"transfer-service/internal/service"
	"transfer-service/internal/store"
	"transfer-service/internal/util"
	"transfer-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting transfer service")

	tp, err := util.InitTracer(util.TracerOptions{
		ServiceName:    "transfer-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	orderService := service.NewOrderService(
		db,
		provider.NewSimulatedPayment(),
		provider.NewSimulatedCourier(cfg.Providers.CourierName),
		eventPublisher,
		redisClient,
		clock.NewSystem(),
		service.Options{
			ProviderTimeout: cfg.Providers.Timeout,
			AllowSimulation: cfg.Business.AllowSimulation,
			ReplayTTL:       cfg.Business.WebhookMarkerTTL,
		},
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	providerConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicProviderEvents, cfg.Kafka.ConsumerGroup)
	providerWorker := worker.NewProviderEventWorker(providerConsumer, orderService)
	go func() {
		if err := providerWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Provider event worker error", zap.Error(err))
		}
	}()

	reconcileJob := worker.NewReconcileJob(
		service.NewReconciler(orderService, cfg.Business.ReconcileBatch),
		redisClient,
		cfg.Business.ReconcileSchedule,
	)
	if err := reconcileJob.Start(); err != nil {
		logger.Fatal("Failed to start reconcile job", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, auth.NewGuard(cfg.Auth.JWTSecret, db), api.Options{
		PaymentWebhookSecret:  cfg.Providers.PaymentWebhookSecret,
		CourierWebhookSecret:  cfg.Providers.CourierWebhookSecret,
		AllowUnsignedWebhooks: cfg.Server.Env != "production",
		Ready: func(ctx context.Context) error {
			if err := db.GetDB().PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	reconcileJob.Stop()
	workerCancel()
	if err := providerWorker.Stop(); err != nil {
		logger.Error("Error stopping provider event worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
