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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/processor"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service", zap.String("env", cfg.Server.Env), zap.String("port", cfg.Server.Port))

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("Database connected and migrated")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSettlement))

	stripeProcessor := processor.NewStripeProcessor(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	tracker := service.NewAccountTracker(db, stripeProcessor, redisClient, eventPublisher, service.TrackerConfig{
		CacheTTL:   cfg.Reconcile.AccountStatusCacheTTL(),
		ReturnURL:  cfg.Checkout.OnboardingReturnURL,
		RefreshURL: cfg.Checkout.OnboardingRefreshURL,
	})
	checkoutService := service.NewCheckoutService(db, stripeProcessor, tracker, redisClient, eventPublisher, service.CheckoutConfig{
		Currency:         cfg.Stripe.Currency,
		SuccessURL:       cfg.Checkout.SuccessURL,
		CancelURL:        cfg.Checkout.CancelURL,
		ProcessorTimeout: cfg.Checkout.ProcessorTimeout(),
		IdempotencyTTL:   cfg.Checkout.IdempotencyTTL(),
	})
	settlement := service.NewSettlementProcessor(db, stripeProcessor, tracker, eventPublisher)
	orderService := service.NewOrderService(db)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement, cfg.Kafka.ConsumerGroup)
	reconciliationWorker := worker.NewReconciliationWorker(consumer, tracker)
	reconciler := worker.NewReconciler(tracker, checkoutService, worker.ReconcilerConfig{
		PollInterval: cfg.Reconcile.AccountPollInterval(),
		ReapInterval: cfg.Reconcile.PendingReapInterval(),
		PendingTTL:   cfg.Checkout.SessionExpiry() + time.Hour,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	webhooks := api.NewWebhookHandler(stripeProcessor, settlement, cfg.Checkout.WebhookTimeout())
	handler := api.NewHandler(checkoutService, tracker, orderService, webhooks,
		api.NewAuthenticator(cfg.Auth.TokenSecret),
		map[string]api.Pinger{"postgres": db, "redis": redisClient})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := reconciliationWorker.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if err := reconciliationWorker.Stop(); err != nil {
			logger.Warn("Error closing consumer", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
