// Package main is the entrypoint for the due-soon scanner Lambda function.
//
// The scanner runs on a periodic schedule, selects incomplete tasks whose due
// date falls inside the lookahead window and which have not yet been
// notified, and publishes a task-due-soon event for each. The distributed job
// lock suppresses duplicate-event volume when overlapping schedule triggers
// fire; the scan itself is safe to run concurrently.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/queue"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/types"
)

const lockTTL = 15 * time.Minute

type handler struct {
	scanner *scheduler.DueSoonScanner
	locks   *db.JobLockRepository
	logger  *slog.Logger
}

// Handle runs one scan cycle. Schedule triggers carry no payload; the run is
// anchored to the wall clock at invocation.
func (h *handler) Handle(ctx context.Context) error {
	now := time.Now().UTC()
	workerID := "due-soon-scanner-" + uuid.New().String()

	lockID := "due_soon_scan:" + now.Truncate(time.Hour).Format("2006-01-02T15")
	acquired, err := h.locks.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		h.logger.InfoContext(ctx, "scan skipped, lock held by another worker",
			"lock_id", lockID,
		)
		return nil
	}

	notified, err := h.scanner.Scan(ctx, now)
	if err != nil {
		return fmt.Errorf("due-soon scan: %w", err)
	}

	h.logger.InfoContext(ctx, "due-soon scan completed",
		"notified", notified,
		"reference_time", now.Format(time.RFC3339),
	)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	typedLogger := types.NewSlogLogger(logger)

	logger.Info("due-soon scanner initializing (cold start)",
		"environment", cfg.Environment,
		"lookahead_window", cfg.Scheduler.LookaheadWindow.String(),
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Queues.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.Queues.EndpointURL)
		}
	})

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}

	publisher := queue.NewPublisher(sqsClient, cfg.Queues.TopicURLs(), typedLogger)
	scanner := scheduler.NewDueSoonScanner(
		db.NewTaskRepository(pool),
		publisher,
		cfg.Scheduler.LookaheadWindow,
		cfg.Scheduler.ScanBatchSize,
		logger,
	)

	h := &handler{
		scanner: scanner,
		locks:   db.NewJobLockRepository(pool),
		logger:  logger,
	}

	logger.Info("due-soon scanner initialized")

	// Local mode: run a single scan cycle directly instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		if err := h.Handle(ctx); err != nil {
			logger.Error("scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("service", cfg.Service)
}
