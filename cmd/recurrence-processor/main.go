// Package main is the entrypoint for the recurrence processor Lambda function.
//
// The processor runs on a periodic schedule and does two things per cycle:
// materializes due occurrences of recurring task definitions (one task row
// plus one recurring-task-due event each, bounded by the backfill cap), and
// runs the maintenance pass that prunes the processed-events dedup window and
// archives resolved dead letters.
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
	processor   *scheduler.RecurrenceProcessor
	maintenance *scheduler.Maintenance
	locks       *db.JobLockRepository
	logger      *slog.Logger
}

// Handle runs one processor cycle followed by the maintenance pass. The
// maintenance half runs even when materialization reported an error; the two
// are independent and both results are logged.
func (h *handler) Handle(ctx context.Context) error {
	now := time.Now().UTC()
	workerID := "recurrence-processor-" + uuid.New().String()

	lockID := "recurrence_process:" + now.Truncate(time.Hour).Format("2006-01-02T15")
	acquired, err := h.locks.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		h.logger.InfoContext(ctx, "cycle skipped, lock held by another worker",
			"lock_id", lockID,
		)
		return nil
	}

	materialized, procErr := h.processor.Process(ctx, now)
	if procErr != nil {
		h.logger.ErrorContext(ctx, "recurrence processing failed",
			"materialized", materialized,
			"error", procErr.Error(),
		)
	} else {
		h.logger.InfoContext(ctx, "recurrence processing completed",
			"materialized", materialized,
		)
	}

	result, maintErr := h.maintenance.Run(ctx, now)
	if maintErr != nil {
		h.logger.ErrorContext(ctx, "maintenance pass failed", "error", maintErr.Error())
	} else {
		h.logger.InfoContext(ctx, "maintenance pass completed",
			"dedup_rows_pruned", result.DedupRowsPruned,
			"dead_letters_purged", result.DeadLettersPurged,
			"archive_file", result.ArchiveFile,
		)
	}

	if procErr != nil {
		return fmt.Errorf("recurrence processing: %w", procErr)
	}
	if maintErr != nil {
		return fmt.Errorf("maintenance: %w", maintErr)
	}
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

	logger.Info("recurrence processor initializing (cold start)",
		"environment", cfg.Environment,
		"max_backfill", cfg.Scheduler.MaxBackfill,
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
	processor := scheduler.NewRecurrenceProcessor(
		db.NewRecurringTaskRepository(pool),
		db.NewTaskRepository(pool),
		publisher,
		cfg.Scheduler.ScanBatchSize,
		cfg.Scheduler.MaxBackfill,
		logger,
	)
	maintenance := scheduler.NewMaintenance(
		db.NewProcessedEventRepository(pool),
		db.NewDeadLetterRepository(pool),
		scheduler.MaintenanceConfig{
			DedupTTL:     cfg.Scheduler.DedupTTL,
			ArchiveAfter: cfg.Scheduler.ArchiveAfter,
			ArchiveDir:   cfg.Scheduler.ArchiveDir,
		},
		logger,
	)

	h := &handler{
		processor:   processor,
		maintenance: maintenance,
		locks:       db.NewJobLockRepository(pool),
		logger:      logger,
	}

	logger.Info("recurrence processor initialized")

	// Local mode: run a single cycle directly instead of starting the Lambda
	// runtime.
	if cfg.Environment == "local" {
		if err := h.Handle(ctx); err != nil {
			logger.Error("cycle failed", "error", err)
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
