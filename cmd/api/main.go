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

	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/infrastructure/classifier"
	"github.com/ecolens-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/ecolens-api/internal/infrastructure/jwt"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/ecolens-api/internal/infrastructure/memory"
	"github.com/ecolens-api/internal/infrastructure/metrics"
	redisinfra "github.com/ecolens-api/internal/infrastructure/redis"
	"github.com/ecolens-api/internal/infrastructure/smtp"
	transporthttp "github.com/ecolens-api/internal/transport/http"
	"github.com/ecolens-api/internal/transport/http/handler"
	appmiddleware "github.com/ecolens-api/internal/transport/http/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const otpSweepInterval = time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.NewService(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Service) error {
	m := metrics.New()

	jwtProvider, err := jwtinfra.NewProvider(cfg.Tokens)
	if err != nil {
		return fmt.Errorf("token provider: %w", err)
	}

	deps := &transporthttp.Deps{
		JWTProvider:  jwtProvider,
		Metrics:      m,
		Logger:       logger,
		HealthChecks: map[string]handler.Check{},
	}

	if err := buildStorage(ctx, cfg, logger, deps); err != nil {
		return err
	}

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, logger, deps.HealthChecks)
	if err != nil {
		return err
	}
	defer closeLimiter()
	deps.Limiter = limiter

	mailer, err := smtp.NewMailer(cfg.Mail, logger, m)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	deps.Mailer = mailer
	deps.Classifier = classifier.NewClient(cfg.Classifier)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.AppPort),
		Handler:           transporthttp.NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Classifier.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("storage", cfg.StorageBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildStorage(ctx context.Context, cfg *config.Config, logger *logging.Service, deps *transporthttp.Deps) error {
	switch cfg.StorageBackend {
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("dynamodb: %w", err)
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables, logger)
		deps.UserRepo = dynamo.NewUserRepo(client, cfg.DynamoTables)
		deps.OTPRepo = dynamo.NewOTPRepo(client, cfg.DynamoTables.OTPs)
	case "memory":
		if cfg.IsProduction() {
			logger.Warn("in-memory storage in production; data is lost on restart")
		}
		db := memory.NewDB()
		otps := memory.NewOTPRepo(db)
		go otps.RunSweeper(ctx, otpSweepInterval, logger)
		deps.UserRepo = memory.NewUserRepo(db)
		deps.OTPRepo = otps
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	return nil
}

// buildLimiter prefers the shared Redis limiter and falls back to a
// per-process token bucket when REDIS_URL is unset.
func buildLimiter(ctx context.Context, cfg *config.Config, logger *logging.Service, checks map[string]handler.Check) (appmiddleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("rate limiting in memory", zap.Float64("rps", cfg.RateLimit.RPS), zap.Int("burst", cfg.RateLimit.Burst))
		return appmiddleware.NewMemoryLimiter(ctx, rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst), func() {}, nil
	}
	client, err := redisinfra.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	logger.Info("rate limiting in redis", zap.Int("limit", cfg.RateLimit.Burst), zap.Duration("window", cfg.RateLimit.Window))
	limiter := redisinfra.NewLimiter(client, cfg.RateLimit.Burst, cfg.RateLimit.Window, cfg.RateLimit.Prefix)
	return limiter, func() { _ = client.Close() }, nil
}
