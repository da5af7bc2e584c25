package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kyungseok/msa-exchange-go/common/idempotency"
	"github.com/kyungseok/msa-exchange-go/common/messaging"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/handler"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/worker"
)

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox publisher, reconciliation worker and event consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configFile)
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, log := a.cfg, a.log
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	g, ctx := errgroup.WithContext(ctx)

	// HTTP Server
	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	router := handler.NewRouter(handler.NewHTTPHandler(a.service, log), auth, log)
	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: router,
	}
	g.Go(func() error {
		log.Info("http server starting", zap.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Reconcile Worker
	reconciler := worker.NewReconcileWorker(a.service, log, cfg.Worker.ReconcileInterval, cfg.Worker.ReconcileBatchSize)
	g.Go(func() error { return reconciler.Start(ctx) })

	if cfg.KafkaEnabled() {
		if err := startMessaging(ctx, g, a); err != nil {
			return err
		}
	} else {
		log.Info("kafka disabled; outbox events stay pending and reconciliation runs on the periodic worker only")
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// startMessaging Outbox 발행, 보정 이벤트 구독
func startMessaging(ctx context.Context, g *errgroup.Group, a *app) error {
	cfg, log := a.cfg, a.log

	// Redis 연결
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("connected to redis")

	// Kafka Producer 초기화
	publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.ServiceName, log)
	if err != nil {
		_ = redisClient.Close()
		return fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	// Kafka Consumer 초기화
	consumer, err := messaging.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
	if err != nil {
		_ = publisher.Close()
		_ = redisClient.Close()
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	outboxWorker := worker.NewOutboxWorker(a.storage.outbox, publisher, log, cfg.Worker.OutboxInterval, cfg.Worker.OutboxBatchSize)
	g.Go(func() error {
		defer publisher.Close()
		return outboxWorker.Start(ctx)
	})

	idemStore := idempotency.NewRedisStore(redisClient, cfg.ServiceName)
	eventHandler := handler.NewEventHandler(a.service, idemStore, log)
	g.Go(func() error {
		defer redisClient.Close()
		defer consumer.Close()
		log.Info("subscribing to kafka topics", zap.Strings("topics", eventHandler.Topics()))
		return consumer.Subscribe(ctx, eventHandler.Topics(), eventHandler.HandleMessage)
	})
	return nil
}
