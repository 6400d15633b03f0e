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

	"locker-service/config"
	"locker-service/internal/api"
	"locker-service/internal/broker"
	"locker-service/internal/clock"
	"locker-service/internal/gateway"
	"locker-service/internal/redisclient"
	"locker-service/internal/service"
	"locker-service/internal/store"
	"locker-service/internal/util"
	"locker-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type reservationBackend interface {
	service.ReservationStore
	service.UserSource
	Ping(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (reservationBackend, error) {
	switch cfg.Database.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Database.Backend)
	}
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "locker-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting locker service")

	tp, err := util.InitTracer("locker-service", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.Database.Backend), zap.Error(err))
	}
	defer db.Close()
	logger.Info("Store ready", zap.String("backend", cfg.Database.Backend))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	rentalProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRental)
	defer rentalProducer.Close()
	recoveryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRecovery)
	defer recoveryProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("rental_topic", cfg.Kafka.TopicRental),
		zap.String("recovery_topic", cfg.Kafka.TopicRecovery))

	eventPublisher := broker.NewEventPublisher(rentalProducer, recoveryProducer)

	snap := gateway.NewClient(gateway.Config{
		ServerKey: cfg.Midtrans.ServerKey,
		BaseURL:   cfg.Midtrans.SnapURL,
		Timeout:   cfg.Midtrans.Timeout,
	})

	directory := service.NewUserDirectory(redisClient, db, cfg.Business.UserCacheTTL)
	locker := service.NewLocker(redisClient, cfg.Business.OrderLockTTL, cfg.Business.OrderLockWait)

	rentalService := service.NewRentalService(
		db,
		snap,
		directory,
		locker,
		eventPublisher,
		service.NewPricing(cfg.Business.PricePerHour),
		clock.NewSystem(),
		service.WithRetryPolicy(cfg.Business.StoreRetryAttempts, cfg.Business.StoreRetryBackoff),
		service.WithRecoveryMaxAttempts(cfg.Business.RecoveryMaxAttempts),
		service.WithMaxDurationHours(cfg.Business.MaxDurationHours),
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	recoveryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRecovery, cfg.Kafka.ConsumerGroup)
	recoveryWorker := worker.NewRecoveryWorker(recoveryConsumer, rentalService, cfg.Business.RecoveryDelay)
	go func() {
		if err := recoveryWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Recovery worker error", zap.Error(err))
		}
	}()

	sweeper := worker.NewSweeper(rentalService, cfg.Business.SweepInterval, cfg.Business.PendingTTL)
	go sweeper.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(rentalService,
		api.ReadinessCheck{Name: "store", Check: db.Ping},
		api.ReadinessCheck{Name: "redis", Check: redisClient.Ping},
	)
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

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := recoveryWorker.Stop(); err != nil {
		logger.Warn("Error stopping recovery worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
