// Package main is the entrypoint for the notify worker Lambda function.
//
// The notify worker consumes the task-due-soon, recurring-task-due, and
// task-completed FIFO queues, routes each event through the dispatcher
// (deduplication, bounded retry, dead-lettering), and delivers notifications
// through the external notification service.
//
// Cold start (main):
//  1. Initialize structured logger.
//  2. Load and validate configuration.
//  3. Load AWS SDK configuration, initialize SQS and CloudWatch clients.
//  4. Open the database pool (dedup, dead letters, email lookup).
//  5. Initialize the notifier client (or the local stub).
//  6. Build the handler route table and the dispatcher.
//  7. Register the handler and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/dispatcher"
	"taskpulse/internal/external"
	"taskpulse/internal/notify"
	"taskpulse/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	typedLogger := types.NewSlogLogger(logger)

	logger.Info("notify worker initializing (cold start)",
		"environment", cfg.Environment,
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}

	taskRepo := db.NewTaskRepository(pool)
	dedupRepo := db.NewProcessedEventRepository(pool)
	deadLetterRepo := db.NewDeadLetterRepository(pool)

	// Without a notifier token there is nothing to authenticate against, so
	// local runs log deliveries instead of sending them.
	var sender notify.Sender
	if cfg.Environment == "local" || cfg.Notifier.Token.Unmask() == "" {
		logger.Warn("notifier token not set, using stub notification sender")
		sender = external.NewStubNotificationSender(typedLogger)
	} else {
		sender = external.NewNotifierClient(
			&http.Client{Timeout: cfg.Notifier.Timeout},
			external.NotifierClientConfig{
				EndpointURL: cfg.Notifier.EndpointURL,
				Token:       cfg.Notifier.Token,
				Logger:      typedLogger,
			},
		)
	}

	handlers := notify.NewHandlers(sender, taskRepo, typedLogger)

	routes := map[types.EventType]dispatcher.HandlerFunc{
		types.EventTaskDueSoon:      handlers.HandleTaskDueSoon,
		types.EventRecurringTaskDue: handlers.HandleRecurringTaskDue,
		types.EventTaskCompleted:    handlers.HandleTaskCompleted,
	}

	metrics := dispatcher.NewCloudWatchMetrics(cwClient, cfg.MetricNamespace, typedLogger)

	d := dispatcher.New(
		routes,
		dedupRepo,
		deadLetterRepo,
		dispatcher.RetryPolicy{
			MaxAttempts:   cfg.Dispatcher.MaxAttempts,
			BaseDelay:     cfg.Dispatcher.BaseDelay,
			MaxDelay:      cfg.Dispatcher.MaxDelay,
			BackoffFactor: 2.0,
		},
		metrics,
		typedLogger,
	)

	logger.Info("notify worker initialized",
		"routes", len(routes),
		"metric_namespace", cfg.MetricNamespace,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime, enabling integration testing without the AWS RIE.
	if cfg.Environment == "local" {
		runLocal(ctx, d, logger)
		return
	}

	lambda.Start(d.Handle)
}

func runLocal(ctx context.Context, d *dispatcher.Dispatcher, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading SQS event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		logger.Error("no input received on stdin")
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("failed to parse stdin as SQS event", "error", err)
		os.Exit(1)
	}

	response, err := d.Handle(ctx, sqsEvent)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		os.Exit(1)
	}
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}

	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
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
