// Package main is the entrypoint for the FCM delivery worker.
//
// The FCM worker long-polls the Android delivery queue, resolves each job's
// recipients against the current database state, delivers through the FCM
// legacy HTTP gateway, and turns transient failures into delayed retry jobs
// on the same queue.
//
// Startup:
//  1. Initialize structured logger.
//  2. Load and validate configuration from the environment.
//  3. Load AWS SDK configuration, initialize SQS and CloudWatch clients.
//  4. Open the pgx connection pool and wire the repositories.
//  5. Build channel, resolver, retry publisher, and processor.
//  6. Run the consumer pool and the health endpoint until SIGTERM/SIGINT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"civicwatch/internal/config"
	"civicwatch/internal/db"
	"civicwatch/internal/notifications/core"
	"civicwatch/internal/notifications/fcm"
	"civicwatch/internal/queue"
	"civicwatch/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fcm-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := &slogAdapter{logger: newSlog(cfg)}
	logger.Info("fcm worker starting",
		"environment", cfg.Environment,
		"queue_url", cfg.AWS.FcmQueueURL,
		"concurrency", cfg.Worker.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	reports := db.NewReportRepository(pool)
	users := db.NewUserRepository(pool)
	messages := db.NewMessageRepository(pool)

	httpClient := &http.Client{Timeout: cfg.Push.GatewayTimeout}
	channel := fcm.NewChannel(cfg.Push, httpClient, logger)

	resolver := core.NewRecipientResolver(users, reports, messages, logger)
	metrics := core.NewCloudWatchNotificationMetrics(cwClient, logger)
	publisher := queue.NewRetryPublisher(sqsClient, cfg.AWS.FcmQueueURL, logger)

	policy := core.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	processor := core.NewProcessor(
		channel, resolver, publisher, policy, metrics,
		users, reports, messages,
		cfg.Push.NotificationValidity, logger,
	)

	consumer := queue.NewConsumer(
		sqsClient, cfg.AWS.FcmQueueURL, processor, metrics,
		cfg.Worker.Concurrency, cfg.Worker.GatewayRate, logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return runHealthServer(ctx, cfg.Worker.HealthPort, logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("fcm worker stopped")
		return nil
	}
	return err
}

func newSlog(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("service", cfg.Service, "platform", string(types.PlatformAndroid))
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// runHealthServer serves the liveness endpoint until the context ends.
func runHealthServer(ctx context.Context, port string, logger types.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		logger.Error("health server exited", "error", err.Error())
		return err
	}
}
