// load.go implements the configuration loading lifecycle for the taskpulse
// engine.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in recurrence math.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load loads and validates the taskpulse configuration.
//
// The .env load is non-fatal: in deployed environments all values come from
// the process environment. envconfig or validation failures are fatal to the
// caller (fail fast on misconfiguration).
func Load() (*Config, error) {
	// All recurrence arithmetic and scan windows are computed in UTC.
	// Forcing the process timezone removes an entire class of DST bugs.
	time.Local = time.UTC
	_ = os.Setenv("TZ", "UTC")

	// godotenv.Load() silently succeeds if no .env file exists, and it does
	// NOT override variables already present in the environment, preserving
	// the OS-env-wins priority.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
