/**
 * @description
 * This is the main entry point for the earnings-service. It loads configuration,
 * connects PostgreSQL, Redis and RabbitMQ, builds the payout and scoring
 * providers, and runs the HTTP API, the queue workers and the cron scheduler
 * in one process until SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Withdrawal rate limiting.
 * - github.com/joho/godotenv: Local .env loading.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/payout, pkg/scoringclient, pkg/rabbitmq, pkg/secretbox: Providers and infrastructure.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/citypulse/earnings-service/internal/api"
	"github.com/citypulse/earnings-service/internal/app"
	"github.com/citypulse/earnings-service/internal/config"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/progression"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	rmrabbit "github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/citypulse/earnings-service/pkg/scoringclient"
	"github.com/citypulse/earnings-service/pkg/secretbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	boot := logger.With("component", "bootstrap")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		boot.Warn(".env load failed", "err", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fatal(boot, "config load failed", err)
	}
	for name, value := range map[string]string{
		"INTERNAL_API_KEY":             cfg.InternalAPIKey,
		"JWT_SECRET":                   cfg.JWTSecret,
		"CREDENTIAL_ENCRYPTION_SECRET": cfg.CredentialEncryptionSecret,
		"DATABASE_URL":                 cfg.DatabaseURL,
	} {
		if strings.TrimSpace(value) == "" {
			fatal(boot, "required setting missing", fmt.Errorf("%s is empty", name))
		}
	}
	boot.Info("starting earnings-service", "port", cfg.ServerPort, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		fatal(boot, "database url parse failed", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		fatal(boot, "database connection failed", err)
	}
	defer dbpool.Close()

	repository := store.NewPostgresStore(dbpool)
	if err := repository.EnsureSchema(ctx); err != nil {
		fatal(boot, "schema migration failed", err)
	}
	boot.Info("database connected")

	redisClient := connectRedis(ctx, cfg, boot)
	if redisClient != nil {
		defer redisClient.Close()
	}
	limiter := app.NewRedisWithdrawalLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.WithdrawalRateLimitPerMinute, time.Minute)

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		boot.Warn("rabbitmq producer unavailable; using fallback", "err", err)
	} else {
		publisher = producer
		boot.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	crypter, err := secretbox.New(cfg.CredentialEncryptionSecret)
	if err != nil {
		fatal(boot, "credential encryption init failed", err)
	}

	calculator, err := earnings.NewCalculator(cfg.EarningsRates())
	if err != nil {
		fatal(boot, "invalid earnings rates", err)
	}
	curve, err := progression.NewCurve(cfg.LevelThresholds, progression.DefaultTitles)
	if err != nil {
		fatal(boot, "invalid level curve", err)
	}

	queues := app.QueueNames{
		SessionProcessing:   cfg.SessionProcessingQueue,
		EarningsCalculation: cfg.EarningsCalculationQueue,
		Withdrawal:          cfg.WithdrawalQueue,
		Notifications:       cfg.NotificationQueue,
	}

	service := app.NewService(app.Dependencies{
		Store:      repository,
		Publisher:  publisher,
		Queues:     queues,
		Scorer:     newScorer(cfg, boot),
		Payer:      newPayer(cfg, boot),
		Crypter:    crypter,
		Limiter:    limiter,
		Calculator: calculator,
		Curve:      curve,
		Progression: app.ProgressionConfig{
			LevelUpBonusPerLevel: cfg.LevelUpBonusPerLevel,
			StreakBonusPerDay:    cfg.StreakBonusPerDay,
			StreakBonusCap:       cfg.StreakBonusCap,
			Location:             cfg.Location,
		},
		Withdrawal: app.WithdrawalConfig{
			MinAmount:  cfg.MinWithdrawal,
			MaxAmount:  cfg.MaxWithdrawal,
			DailyLimit: cfg.DailyWithdrawalLimit,
			FeePercent: cfg.WithdrawalFeePercent,
			Location:   cfg.Location,
		},
		Logger: logger,
	})
	if err := service.Bootstrap(ctx); err != nil {
		fatal(boot, "bootstrap failed", err)
	}

	consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		fatal(boot, "rabbitmq consumer init failed", err)
	}
	defer consumer.Close()
	workerOpts := app.WorkerOptions{
		Concurrency:    cfg.WorkerConcurrency,
		MaxAttempts:    cfg.WorkerMaxAttempts,
		BaseDelay:      time.Duration(cfg.WorkerRetryBaseDelayMs) * time.Millisecond,
		HandlerTimeout: time.Duration(cfg.WorkerHandlerTimeoutSec) * time.Second,
	}
	if err := service.Jobs.Start(ctx, consumer, queues, workerOpts); err != nil {
		fatal(boot, "queue workers start failed", err)
	}

	schedCfg := app.DefaultSchedulerConfig()
	schedCfg.DailyChallengeSpec = cfg.DailyChallengeCron
	schedCfg.RedispatchSpec = cfg.WithdrawalRedispatchCron
	schedCfg.StuckReportSpec = cfg.StuckReportCron
	schedCfg.StuckAfter = cfg.StuckAfter()
	schedCfg.Location = cfg.Location
	scheduler, err := service.NewScheduler(schedCfg)
	if err != nil {
		fatal(boot, "scheduler init failed", err)
	}
	scheduler.Start()

	handlers := api.NewHandlers(service, logger)
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.Routes(handlers, api.RouterConfig{
			JWTSecret:      cfg.JWTSecret,
			InternalAPIKey: cfg.InternalAPIKey,
			AllowedOrigins: cfg.AllowedOrigins(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logger.With("component", "http")
	go func() {
		httpLog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(httpLog, "server stopped unexpectedly", err)
		}
	}()

	<-ctx.Done()
	httpLog.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		httpLog.Error("shutdown failed", "err", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
	}
	consumer.Wait()
	httpLog.Info("shutdown complete")
}

func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) redis.UniversalClient {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; withdrawal rate limiting disabled", "env", "REDIS_URL")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; withdrawal rate limiting disabled", "err", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; withdrawal rate limiting disabled", "err", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

// newPayer talks to the real providers only in production.
func newPayer(cfg config.Config, logger *slog.Logger) payout.Payer {
	if !cfg.IsProduction() {
		logger.Info("payout providers in mock mode", "environment", cfg.Environment)
		return payout.NewMockGateway()
	}
	return payout.NewGateway(map[string]payout.Payer{
		payout.ProviderGCash:        payout.NewClient(payout.ProviderGCash, cfg.GCashAPIURL, cfg.GCashAPIKey, cfg.GCashMerchantID),
		payout.ProviderGrabPay:      payout.NewClient(payout.ProviderGrabPay, cfg.GrabPayAPIURL, cfg.GrabPayAPIKey, cfg.GrabPayMerchantID),
		payout.ProviderBankTransfer: payout.NewClient(payout.ProviderBankTransfer, cfg.BankTransferAPIURL, cfg.BankTransferAPIKey, cfg.BankTransferMerchantID),
	}, false)
}

func newScorer(cfg config.Config, logger *slog.Logger) scoringclient.Scorer {
	if !cfg.IsProduction() && cfg.ScoringServiceURL == "" {
		logger.Info("scoring service in mock mode", "environment", cfg.Environment)
		return scoringclient.MockScorer{}
	}
	return scoringclient.NewClient(cfg.ScoringServiceURL, cfg.ScoringServiceToken)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
