// Package main is the entrypoint for the triggerbot service.
//
// Triggerbot is the always-on half of the pipeline: it consumes candidate
// alerts from SQS one at a time, runs each through the decision gates, and
// commits accepted plans to the live execution queue. A small HTTP listener
// exposes liveness and readiness for the orchestrator.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"encoding/json"
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

	"github.com/knolan10/BBHBot/internal/alert"
	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/db"
	"github.com/knolan10/BBHBot/internal/decision"
	"github.com/knolan10/BBHBot/internal/external"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/notify"
	"github.com/knolan10/BBHBot/internal/plan"
	"github.com/knolan10/BBHBot/internal/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	clock := types.RealClock()
	recorder := metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Environment, logger)
	notifier := newNotifier(httpClient, cfg, logger)

	planMgr := plan.NewManager(
		external.NewPlanningClient(httpClient, cfg.Planning),
		plan.NewWindowCalc(cfg.Site),
		clock, cfg.Plan, logger,
	)
	engine := decision.NewEngine(decision.Deps{
		Records:  db.NewTriggerRecordRepository(pool),
		Plans:    planMgr,
		Coverage: external.NewCoverageClient(httpClient, cfg.Coverage),
		Mass:     external.NewMassClient(httpClient, cfg.Mass),
		Notifier: notifier,
		Metrics:  recorder,
		Clock:    clock,
		Logger:   logger,
	}, cfg)
	consumer := alert.NewConsumer(sqs.NewFromConfig(awsCfg), engine, recorder, clock, cfg, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: newRouter(pool),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("health server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("triggerbot started",
		"environment", cfg.Environment,
		"testing", cfg.Testing,
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("triggerbot stopped")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newNotifier(httpClient *http.Client, cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.Notify.WebhookURL.Reveal() == "" {
		return notify.NopNotifier{}
	}
	return notify.NewWebhookNotifier(httpClient, cfg.Notify, logger)
}

// newRouter builds the liveness/readiness listener. Readiness pings the
// database; everything else the service needs is checked lazily per alert.
func newRouter(pool *pgxpool.Pool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := map[string]string{"status": "ready"}
		if err := pool.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "unavailable", "database": err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}
