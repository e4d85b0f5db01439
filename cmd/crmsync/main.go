package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/memograph-systems/crmsync/internal/adapters"
	"github.com/memograph-systems/crmsync/internal/config"
	"github.com/memograph-systems/crmsync/internal/deadletter"
	"github.com/memograph-systems/crmsync/internal/dedup"
	"github.com/memograph-systems/crmsync/internal/handlers"
	"github.com/memograph-systems/crmsync/internal/logging"
	"github.com/memograph-systems/crmsync/internal/memoryclient"
	"github.com/memograph-systems/crmsync/internal/metrics"
	"github.com/memograph-systems/crmsync/internal/normalizer"
	"github.com/memograph-systems/crmsync/internal/processor"
	"github.com/memograph-systems/crmsync/internal/queue"
	"github.com/memograph-systems/crmsync/internal/server"
	"github.com/memograph-systems/crmsync/internal/signature"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(slog.String("service", "crmsync"))
	logging.SetDefault(logger)

	slog.Info("Starting CRM sync pipeline",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
	)

	// The signing secret is the trust anchor for inbound deliveries; the
	// process refuses to start without it.
	if cfg.Webhook.SigningSecret == "" {
		log.Fatal("CRMSYNC_WEBHOOK_SIGNING_SECRET is not set, refusing to start")
	}

	// Redis backs both the dedup store and the ingestion queue.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Redis connection failed: %v", err)
	}
	pingCancel()

	dedupStore := dedup.NewRedisStore(redisClient, cfg.Dedup.TTL)
	ingestionQueue := queue.NewRedisQueue(redisClient, cfg.Queue.MaxSize)

	// Dead letter store on NATS JetStream
	dlqCtx, dlqCancel := context.WithTimeout(context.Background(), 10*time.Second)
	dlqStore, err := deadletter.NewJetStreamStore(dlqCtx, cfg.DeadLetter.NatsURL, cfg.DeadLetter.Stream)
	dlqCancel()
	if err != nil {
		log.Fatalf("Failed to initialize dead letter store: %v", err)
	}
	defer dlqStore.Close()

	// Metrics are constructed once and injected everywhere.
	pipelineMetrics := metrics.New(prometheus.DefaultRegisterer)
	pipelineMetrics.SetQueueCapacity(ingestionQueue.Capacity())

	// Downstream sync path
	memoryClient := memoryclient.New(cfg.Memory.URL, cfg.Memory.Timeout)
	adapterRegistry := adapters.NewRegistry(memoryClient, cfg.Sync.CriticalFields)

	// Worker pool
	pool := processor.NewPool(processor.Config{
		Workers:     cfg.Worker.Count,
		BatchSize:   cfg.Queue.BatchSize,
		BatchWait:   cfg.Queue.BatchWait,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff: processor.Backoff{
			Base:   cfg.Worker.BackoffBase,
			Cap:    cfg.Worker.BackoffCap,
			Jitter: true,
		},
		SyncTimeout: cfg.Worker.SyncTimeout,
	}, ingestionQueue, dlqStore, adapterRegistry, pipelineMetrics, logger.Logger)
	pool.Start()

	// HTTP receiver
	handler := handlers.NewWebhookHandler(
		signature.NewVerifier(cfg.Webhook.SigningSecret),
		normalizer.NewRegistry(),
		dedupStore,
		ingestionQueue,
		dlqStore,
		pipelineMetrics,
		logger,
		cfg.Server.MaxBodyBytes,
		cfg.Webhook.RetryAfter,
	)
	router := server.NewRouter(handler, prometheus.DefaultGatherer)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Webhook receiver listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting deliveries first, then drain the
	// worker pool so in-flight batches complete.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	pool.Stop()
	slog.Info("Pipeline stopped")
}
