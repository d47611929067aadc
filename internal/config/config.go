package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Scheduler backends selectable with SCHEDULER_BACKEND.
const (
	BackendEventBridge = "eventbridge"
	BackendLocal       = "local"
)

// Config holds all configuration for the concierge application.
// Values are loaded from environment variables; see the root command help for the full list.
type Config struct {
	SchedulerEnabled bool   `json:"scheduler_enabled"`
	SchedulerBackend string `json:"scheduler_backend"`
	AWSRegion        string `json:"aws_region"`
	TargetARN        string `json:"scheduler_target_arn"`
	RoleARN          string `json:"scheduler_role_arn"`
	ScheduleGroup    string `json:"scheduler_group"`
	NamePrefix       string `json:"schedule_name_prefix"`

	SchedulerCallTimeout    time.Duration `json:"-"`
	SchedulerCallTimeoutStr string        `json:"scheduler_call_timeout"`

	RecipientEmail    string `json:"alert_recipient_email"`
	DepartureTimezone string `json:"departure_timezone"`

	HistoryFile         string        `json:"history_file"`
	HistoryDatabaseURL  string        `json:"history_database_url"`
	HistoryOpTimeout    time.Duration `json:"-"`
	HistoryOpTimeoutStr string        `json:"history_op_timeout"`
	StageDir            string        `json:"stage_dir"`
	StageTimeout        time.Duration `json:"-"`
	StageTimeoutStr     string        `json:"stage_timeout"`

	HTTPAddr                  string        `json:"http_addr"`
	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	RedisAddr string `json:"redis_addr,omitempty"`

	// Local backend only.
	TickInterval        time.Duration `json:"-"`
	TickIntervalStr     string        `json:"tick_interval"`
	NotifyWebhookURL    string        `json:"notify_webhook_url"`
	NotifyWebhookSecret string        `json:"notify_webhook_secret"`
	EventBusBufferSize  int           `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the dispatcher's maximum retry window (currently 14m30s).
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	// JobRetention: delivered and failed local jobs older than this are dropped.
	JobRetention    time.Duration `json:"-"`
	JobRetentionStr string        `json:"job_retention"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Printf("config: loaded %s", f)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		SchedulerEnabled:          os.Getenv("SCHEDULER_ENABLED") == "true",
		SchedulerBackend:          os.Getenv("SCHEDULER_BACKEND"),
		AWSRegion:                 os.Getenv("AWS_REGION"),
		TargetARN:                 os.Getenv("SCHEDULER_TARGET_ARN"),
		RoleARN:                   os.Getenv("SCHEDULER_ROLE_ARN"),
		ScheduleGroup:             os.Getenv("SCHEDULER_GROUP"),
		NamePrefix:                os.Getenv("SCHEDULE_NAME_PREFIX"),
		SchedulerCallTimeoutStr:   os.Getenv("SCHEDULER_CALL_TIMEOUT"),
		RecipientEmail:            os.Getenv("ALERT_RECIPIENT_EMAIL"),
		DepartureTimezone:         os.Getenv("DEPARTURE_TIMEZONE"),
		HistoryFile:               os.Getenv("HISTORY_FILE"),
		HistoryDatabaseURL:        os.Getenv("HISTORY_DATABASE_URL"),
		HistoryOpTimeoutStr:       os.Getenv("HISTORY_OP_TIMEOUT"),
		StageDir:                  os.Getenv("STAGE_DIR"),
		StageTimeoutStr:           os.Getenv("STAGE_TIMEOUT"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		NotifyWebhookURL:          os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:       os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		ReconcileEnabled:          os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:      os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:     os.Getenv("RECONCILE_THRESHOLD"),
		JobRetentionStr:           os.Getenv("JOB_RETENTION"),
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		} else {
			log.Printf("config: invalid RECONCILE_BATCH_SIZE %q, using default 100", batchStr)
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.SchedulerBackend == "" {
		cfg.SchedulerBackend = BackendEventBridge
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	if cfg.ScheduleGroup == "" {
		cfg.ScheduleGroup = "default"
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "flight-email-reminder"
	}
	if cfg.DepartureTimezone == "" {
		cfg.DepartureTimezone = "Asia/Seoul"
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = "trip_history.json"
	}
	if cfg.StageDir == "" {
		cfg.StageDir = "stages"
	}
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.SchedulerCallTimeoutStr == "" {
		cfg.SchedulerCallTimeoutStr = "10s"
	}
	if cfg.HistoryOpTimeoutStr == "" {
		cfg.HistoryOpTimeoutStr = "5s"
	}
	if cfg.StageTimeoutStr == "" {
		cfg.StageTimeoutStr = "2m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "1s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "20m"
	}
	if cfg.JobRetentionStr == "" {
		cfg.JobRetentionStr = "24h"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SchedulerCallTimeoutStr); err == nil {
		cfg.SchedulerCallTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HistoryOpTimeoutStr); err == nil {
		cfg.HistoryOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.StageTimeoutStr); err == nil {
		cfg.StageTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.JobRetentionStr); err == nil {
		cfg.JobRetention = d
	}

	return cfg
}

// HistoryBackend names the history store selected by the configuration.
func (c Config) HistoryBackend() string {
	if c.HistoryDatabaseURL != "" {
		return "postgres"
	}
	return "file"
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		SchedulerEnabled        bool   `json:"scheduler_enabled"`
		SchedulerBackend        string `json:"scheduler_backend"`
		AWSRegion               string `json:"aws_region"`
		TargetARN               string `json:"scheduler_target_arn"`
		RoleARN                 string `json:"scheduler_role_arn"`
		ScheduleGroup           string `json:"scheduler_group"`
		NamePrefix              string `json:"schedule_name_prefix"`
		SchedulerCallTimeout    string `json:"scheduler_call_timeout"`
		RecipientEmail          string `json:"alert_recipient_email"`
		DepartureTimezone       string `json:"departure_timezone"`
		HistoryFile             string `json:"history_file"`
		HistoryDatabaseURL      string `json:"history_database_url"`
		HistoryOpTimeout        string `json:"history_op_timeout"`
		StageDir                string `json:"stage_dir"`
		StageTimeout            string `json:"stage_timeout"`
		HTTPAddr                string `json:"http_addr"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		TickInterval            string `json:"tick_interval"`
		NotifyWebhookURL        string `json:"notify_webhook_url"`
		NotifyWebhookSecret     string `json:"notify_webhook_secret"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileThreshold      string `json:"reconcile_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		JobRetention            string `json:"job_retention"`
	}{
		SchedulerEnabled:        c.SchedulerEnabled,
		SchedulerBackend:        c.SchedulerBackend,
		AWSRegion:               c.AWSRegion,
		TargetARN:               c.TargetARN,
		RoleARN:                 c.RoleARN,
		ScheduleGroup:           c.ScheduleGroup,
		NamePrefix:              c.NamePrefix,
		SchedulerCallTimeout:    c.SchedulerCallTimeoutStr,
		RecipientEmail:          maskEmail(c.RecipientEmail),
		DepartureTimezone:       c.DepartureTimezone,
		HistoryFile:             c.HistoryFile,
		HistoryDatabaseURL:      maskSecret(c.HistoryDatabaseURL),
		HistoryOpTimeout:        c.HistoryOpTimeoutStr,
		StageDir:                c.StageDir,
		StageTimeout:            c.StageTimeoutStr,
		HTTPAddr:                c.HTTPAddr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		RedisAddr:               c.RedisAddr,
		TickInterval:            c.TickIntervalStr,
		NotifyWebhookURL:        c.NotifyWebhookURL,
		NotifyWebhookSecret:     maskSecret(c.NotifyWebhookSecret),
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		JobRetention:            c.JobRetentionStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskEmail keeps the domain of an address.
func maskEmail(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			return "***" + s[i:]
		}
	}
	return maskSecret(s)
}
