// Package config defines the immutable configuration for the BBHBot
// follow-up pipeline. Configuration is loaded once at process start and
// never modified; components receive only the subsets they need.
//
// Values resolve from the OS environment, with a local .env file as a
// fallback. Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"github.com/knolan10/BBHBot/internal/types"
)

// SecretString is an alias for types.SecretString, used for credentials so
// they cannot leak through logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	// Testing disables live execution-queue submissions while exercising
	// the full decision path.
	Testing bool `envconfig:"TESTING" default:"false"`

	Server     ServerConfig
	Database   DatabaseConfig
	AWS        AWSConfig
	Site       SiteConfig
	Admission  AdmissionConfig
	Plan       PlanConfig
	Cadence    CadenceConfig
	Photometry PhotometryConfig
	Planning   PlanningConfig
	Coverage   CoverageConfig
	Mass       MassConfig
	Batch      BatchConfig
	Notify     NotifyConfig
}

// ServerConfig holds the triggerbot health/status HTTP listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertQueueURL string `envconfig:"SQS_ALERT_QUEUE" validate:"required,url"`
	// LocalStack support; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SiteConfig fixes the observatory site used for sunset arithmetic. The
// defaults are Palomar.
type SiteConfig struct {
	LatitudeDeg  float64 `envconfig:"SITE_LAT_DEG" default:"33.3564"`
	LongitudeDeg float64 `envconfig:"SITE_LON_DEG" default:"-116.865"`
	// Timezone is informational; all window arithmetic is done in UTC from
	// the site longitude.
	Timezone string `envconfig:"SITE_TZ" default:"US/Pacific"`
}

// AdmissionConfig holds the gate thresholds for the decision engine.
type AdmissionConfig struct {
	TargetGroup        string  `envconfig:"TARGET_GROUP" default:"CBC"`
	MinProbBBH         float64 `envconfig:"MIN_PROB_BBH" default:"0.5"`
	MaxProbTerrestrial float64 `envconfig:"MAX_PROB_TERRESTRIAL" default:"0.4"`
	// MinFARYears is the minimum false-alarm rate in years per false alarm.
	MinFARYears    float64 `envconfig:"MIN_FAR_YEARS" default:"10"`
	MaxSkyAreaDeg2 float64 `envconfig:"MAX_SKY_AREA_DEG2" default:"1000"`
	MinTotalMass   float64 `envconfig:"MIN_TOTAL_MASS" default:"60"`
	// MinChirpMass gates the catalog chirp-mass estimate when available.
	MinChirpMass float64 `envconfig:"MIN_CHIRP_MASS" default:"22"`
	// MaxEventAge is how old an event may be and still trigger.
	MaxEventAge time.Duration `envconfig:"MAX_EVENT_AGE" default:"24h"`
	// Cooldown is the pause after a live trigger, absorbing rapid duplicate
	// alerts for the same event.
	Cooldown time.Duration `envconfig:"TRIGGER_COOLDOWN" default:"120s"`
}

// PlanConfig holds plan-statistics acceptance thresholds and the poll budget.
type PlanConfig struct {
	MaxTotalTimeSec    float64       `envconfig:"PLAN_MAX_TOTAL_TIME_SEC" default:"5400"`
	MinProbability     float64       `envconfig:"PLAN_MIN_PROBABILITY" default:"0.5"`
	PollInterval       time.Duration `envconfig:"PLAN_POLL_INTERVAL" default:"30s"`
	PollTimeout        time.Duration `envconfig:"PLAN_POLL_TIMEOUT" default:"300s"`
	InitialDelay       time.Duration `envconfig:"PLAN_POLL_INITIAL_DELAY" default:"15s"`
	// SerendipityFactor scales the plan probability when comparing against
	// recent survey coverage.
	SerendipityFactor float64 `envconfig:"SERENDIPITY_FACTOR" default:"0.9"`
	// CoverageLookbackDays is how many nights back the serendipitous check
	// looks.
	CoverageLookbackDays int `envconfig:"COVERAGE_LOOKBACK_DAYS" default:"3"`
	// ProbabilityContour is the localization contour queried for coverage.
	ProbabilityContour float64 `envconfig:"PROBABILITY_CONTOUR" default:"0.9"`
}

// CadenceConfig holds the follow-up schedule and pending-recheck tunables.
type CadenceConfig struct {
	// OffsetsDays are the day offsets after the event date on which a
	// follow-up trigger is due.
	OffsetsDays []int `envconfig:"CADENCE_OFFSETS_DAYS" default:"7,14,21,28,40,50"`
	// PendingRecheckDays bounds how long after a plan's start time the
	// scheduler keeps rechecking before declaring it unsuccessful.
	PendingRecheckDays int `envconfig:"PENDING_RECHECK_DAYS" default:"2"`
	// ObservationWindowDays is the span queried for actual coverage after a
	// plan's start time.
	ObservationWindowDays int `envconfig:"OBSERVATION_WINDOW_DAYS" default:"3"`
	// SuccessCoverage is the fraction at or above which a pending plan is
	// declared observed.
	SuccessCoverage float64 `envconfig:"SUCCESS_COVERAGE" default:"0.5"`
	// PartialOutcome selects handling for fractions between zero and
	// SuccessCoverage.
	PartialOutcome types.PartialCoverageOutcome `envconfig:"PARTIAL_COVERAGE_OUTCOME" default:"manual" validate:"oneof=retry manual discard"`
}

// PhotometryConfig holds the bulk-retrieval workload tunables.
type PhotometryConfig struct {
	// PendingCeiling is the hard limit on in-flight batch-service work.
	PendingCeiling int `envconfig:"PHOTOMETRY_PENDING_CEILING" default:"15000"`
	// BatchSize is the service-side maximum entries per sub-batch.
	BatchSize int `envconfig:"PHOTOMETRY_BATCH_SIZE" default:"1500"`
	// MaxImmediateBatches caps sub-batches submitted in one pass; the rest
	// is queued to the backlog.
	MaxImmediateBatches int `envconfig:"PHOTOMETRY_MAX_IMMEDIATE_BATCHES" default:"10"`
	// NewRequestBufferDays delays the first evaluation after an event.
	NewRequestBufferDays int `envconfig:"PHOTOMETRY_NEW_BUFFER_DAYS" default:"7"`
	// WindowDays is the full observability window after which an event is
	// excluded from processing.
	WindowDays int `envconfig:"PHOTOMETRY_WINDOW_DAYS" default:"200"`
	// UpdateStalenessDays is the minimum age of the latest retrieved
	// photometry before an update request is allowed.
	UpdateStalenessDays int `envconfig:"PHOTOMETRY_UPDATE_STALENESS_DAYS" default:"7"`
	// DateGroupWindowDays is the sliding-window size for grouping update
	// request dates.
	DateGroupWindowDays float64 `envconfig:"PHOTOMETRY_DATE_GROUP_WINDOW_DAYS" default:"60"`
	// UpdateOffsetsDays and ExpectedSubmissions define the update cadence:
	// an event is due when elapsed days >= offset[i] and scheduled
	// submissions so far < ExpectedSubmissions[i] for the smallest unmet i.
	UpdateOffsetsDays   []int `envconfig:"PHOTOMETRY_UPDATE_OFFSETS_DAYS" default:"9,16,23,30,52,100"`
	ExpectedSubmissions []int `envconfig:"PHOTOMETRY_EXPECTED_SUBMISSIONS" default:"2,3,4,5,6,7"`
	// ArchiveDir is the local zstd-compressed lightcurve archive root.
	ArchiveDir string `envconfig:"PHOTOMETRY_ARCHIVE_DIR" default:"data/photometry"`
}

// PlanningConfig holds the planning-service endpoint and allocation.
type PlanningConfig struct {
	BaseURL      string       `envconfig:"PLANNING_BASE_URL" validate:"required,url"`
	Token        SecretString `envconfig:"PLANNING_TOKEN" validate:"required"`
	AllocationID string       `envconfig:"PLANNING_ALLOCATION_ID" validate:"required"`
}

// CoverageConfig holds the survey-coverage service endpoint.
type CoverageConfig struct {
	BaseURL  string       `envconfig:"COVERAGE_BASE_URL" validate:"required,url"`
	Username string       `envconfig:"COVERAGE_USERNAME"`
	Password SecretString `envconfig:"COVERAGE_PASSWORD"`
}

// MassConfig holds the mass/parameter estimate service endpoint.
type MassConfig struct {
	BaseURL string `envconfig:"MASS_BASE_URL" validate:"required,url"`
	// PollBudget bounds the wait for a mass estimate to appear.
	PollBudget   time.Duration `envconfig:"MASS_POLL_BUDGET" default:"600s"`
	PollInterval time.Duration `envconfig:"MASS_POLL_INTERVAL" default:"60s"`
}

// BatchConfig holds the bulk photometry service endpoint and credentials.
type BatchConfig struct {
	BaseURL      string       `envconfig:"BATCH_BASE_URL" validate:"required,url"`
	Email        string       `envconfig:"BATCH_EMAIL" validate:"required"`
	UserPass     SecretString `envconfig:"BATCH_USERPASS" validate:"required"`
	AuthUsername string       `envconfig:"BATCH_AUTH_USERNAME" validate:"required"`
	AuthPassword SecretString `envconfig:"BATCH_AUTH_PASSWORD" validate:"required"`
}

// NotifyConfig holds the fire-and-forget notification webhook.
type NotifyConfig struct {
	WebhookURL SecretString  `envconfig:"NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
}
