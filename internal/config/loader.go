// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct with go-playground/validator.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads, populates, and validates the Config. A missing .env file is
// tolerated; any other failure is returned for the caller to fail fast on.
func Load() (*Config, error) {
	// Local development convenience only. In deployed environments all
	// values come from the real environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: "envconfig", Message: "failed to process environment", Err: err}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs structural validation plus the cross-field checks that
// struct tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{Stage: "validate", Message: "invalid configuration", Err: err}
	}

	if len(cfg.Photometry.UpdateOffsetsDays) != len(cfg.Photometry.ExpectedSubmissions) {
		return &ConfigError{
			Stage:   "validate",
			Message: "photometry update offsets and expected submission counts must have equal length",
		}
	}
	if cfg.Photometry.BatchSize <= 0 || cfg.Photometry.PendingCeiling < cfg.Photometry.BatchSize {
		return &ConfigError{
			Stage:   "validate",
			Message: "photometry pending ceiling must be at least one batch",
		}
	}
	if cfg.Plan.PollInterval <= 0 || cfg.Plan.PollTimeout < cfg.Plan.PollInterval {
		return &ConfigError{
			Stage:   "validate",
			Message: "plan poll timeout must cover at least one interval",
		}
	}
	if len(cfg.Cadence.OffsetsDays) == 0 {
		return &ConfigError{
			Stage:   "validate",
			Message: "cadence offsets must not be empty",
		}
	}

	return nil
}
