// Package main is the entrypoint for the flarebot Lambda function.
//
// Flarebot runs once per day: it reconciles the in-flight budget against
// the batch photometry service, drains the overflow backlog, then sweeps
// every active event for completed results and cadence-due submissions. A
// database job lock keeps concurrent invocations from double-submitting.
//
// In local mode (APP_ENV=local) the pass runs once directly instead of
// registering with the Lambda runtime.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/db"
	"github.com/knolan10/BBHBot/internal/external"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/notify"
	"github.com/knolan10/BBHBot/internal/photometry"
	"github.com/knolan10/BBHBot/internal/queue"
	"github.com/knolan10/BBHBot/internal/types"
)

const (
	lockID  = "photometry_pass"
	lockTTL = time.Hour
)

type jobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// handler wraps the photometry pass with the job lock.
type handler struct {
	pass   *photometry.Manager
	locks  jobLocker
	logger *slog.Logger
}

// Handle runs one locked photometry pass. A lost lock race is not an
// error; another worker is already running today's pass.
func (h *handler) Handle(ctx context.Context) error {
	workerID := uuid.NewString()
	acquired, err := h.locks.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		h.logger.InfoContext(ctx, "photometry pass already running elsewhere")
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.locks.Release(releaseCtx, lockID, workerID); err != nil {
			h.logger.Error("failed to release job lock", "error", err.Error())
		}
	}()

	return h.pass.Run(ctx)
}

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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
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

	httpClient := &http.Client{Timeout: 60 * time.Second}
	clock := types.RealClock()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.WebhookURL.Reveal() != "" {
		notifier = notify.NewWebhookNotifier(httpClient, cfg.Notify, logger)
	}

	photoRepo := db.NewPhotometryRecordRepository(pool)
	backlogRepo := db.NewBacklogRepository(pool)
	batchClient := external.NewBatchClient(httpClient, cfg.Batch)
	budget := queue.NewBudget(cfg.Photometry.PendingCeiling)

	mgr := photometry.NewManager(photometry.ManagerDeps{
		Records:  photoRepo,
		Triggers: db.NewTriggerRecordRepository(pool),
		Backlog:  backlogRepo,
		Batch:    batchClient,
		Catalog:  external.NewCatalogClient(httpClient, cfg.Coverage),
		Drainer: queue.NewDrainer(backlogRepo, batchClient, photoRepo, budget,
			cfg.Photometry.BatchSize, clock, logger),
		Budget:   budget,
		Archive:  photometry.NewArchive(cfg.Photometry.ArchiveDir),
		Notifier: notifier,
		Metrics:  metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Environment, logger),
		Clock:    clock,
		Logger:   logger,
	}, cfg)
	h := &handler{
		pass:   mgr,
		locks:  db.NewJobLockRepository(pool),
		logger: logger,
	}

	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: running photometry pass once")
		return h.Handle(ctx)
	}

	lambda.Start(h.Handle)
	return nil
}
