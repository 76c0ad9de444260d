// Package config defines the global configuration structure for the taskpulse
// engine. Configuration is loaded once at process initialization (worker cold
// start) and is immutable thereafter. It follows 12-Factor App principles by
// strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"taskpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the taskpulse engine.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"taskpulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database   DatabaseConfig
	Queues     QueueConfig
	Scheduler  SchedulerConfig
	Dispatcher DispatcherConfig
	Notifier   NotifierConfig
	Ops        OpsConfig

	// Observability
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TaskPulse"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// QueueConfig maps the five logical topics to their physical FIFO queue URLs.
// Every topic is partitioned by user id via the SQS MessageGroupId, which is
// what gives per-user delivery ordering.
type QueueConfig struct {
	TaskCreatedURL      string `envconfig:"SQS_TASK_CREATED" validate:"required,url"`
	TaskUpdatedURL      string `envconfig:"SQS_TASK_UPDATED" validate:"required,url"`
	TaskCompletedURL    string `envconfig:"SQS_TASK_COMPLETED" validate:"required,url"`
	TaskDueSoonURL      string `envconfig:"SQS_TASK_DUE_SOON" validate:"required,url"`
	RecurringTaskDueURL string `envconfig:"SQS_RECURRING_TASK_DUE" validate:"required,url"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// TopicURLs returns the topic-name -> queue-URL map consumed by the
// publisher. Topic names are the event type strings.
func (q QueueConfig) TopicURLs() map[string]string {
	return map[string]string{
		string(types.EventTaskCreated):      q.TaskCreatedURL,
		string(types.EventTaskUpdated):      q.TaskUpdatedURL,
		string(types.EventTaskCompleted):    q.TaskCompletedURL,
		string(types.EventTaskDueSoon):      q.TaskDueSoonURL,
		string(types.EventRecurringTaskDue): q.RecurringTaskDueURL,
	}
}

// SchedulerConfig holds the tuning knobs for the two periodic jobs.
type SchedulerConfig struct {
	// Due-Soon Scanner: tasks due within LookaheadWindow, not completed and
	// not yet notified, get a task-due-soon event.
	LookaheadWindow time.Duration `envconfig:"DUE_SOON_LOOKAHEAD" default:"24h"`
	ScanBatchSize   int           `envconfig:"DUE_SOON_BATCH_SIZE" default:"500"`

	// Recurrence Processor: at most MaxBackfill missed cycles are
	// materialized per definition per run; older cycles are skipped.
	MaxBackfill int `envconfig:"RECURRENCE_MAX_BACKFILL" default:"3"`

	// Retention used by the maintenance pass.
	DedupTTL     time.Duration `envconfig:"DEDUP_TTL" default:"72h"`
	ArchiveAfter time.Duration `envconfig:"DLQ_ARCHIVE_AFTER" default:"720h"`
	ArchiveDir   string        `envconfig:"DLQ_ARCHIVE_DIR" default:"/tmp/taskpulse-archive"`
}

// DispatcherConfig holds the retry budget for event handlers.
type DispatcherConfig struct {
	MaxAttempts int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"DISPATCH_BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"DISPATCH_MAX_DELAY" default:"30s"`
}

// NotifierConfig holds the external notification dispatcher endpoint and
// credentials.
type NotifierConfig struct {
	EndpointURL string        `envconfig:"NOTIFIER_ENDPOINT" validate:"required,url"`
	Token       SecretString  `envconfig:"NOTIFIER_TOKEN" validate:"required"`
	Timeout     time.Duration `envconfig:"NOTIFIER_TIMEOUT" default:"10s"`
	FromAddress string        `envconfig:"NOTIFIER_FROM_ADDRESS" default:"reminders@taskpulse.io"`
}

// OpsConfig holds the operator API server settings.
type OpsConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8080"`
}
