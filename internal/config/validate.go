package config

import (
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata" // DEPARTURE_TIMEZONE must resolve without a system zoneinfo
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
// Missing scheduler settings are not errors; registration reports them as skips.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// SCHEDULER_BACKEND must be "eventbridge" or "local"
	if cfg.SchedulerBackend != "" && cfg.SchedulerBackend != BackendEventBridge && cfg.SchedulerBackend != BackendLocal {
		errs = append(errs, ValidationError{
			Field:   "SCHEDULER_BACKEND",
			Message: fmt.Sprintf("must be '%s' or '%s', got %q", BackendEventBridge, BackendLocal, cfg.SchedulerBackend),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"SCHEDULER_CALL_TIMEOUT", cfg.SchedulerCallTimeoutStr},
		{"HISTORY_OP_TIMEOUT", cfg.HistoryOpTimeoutStr},
		{"STAGE_TIMEOUT", cfg.StageTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeoutStr},
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
		{"JOB_RETENTION", cfg.JobRetentionStr},
	}
	for _, d := range durations {
		if err := checkDuration(d.field, d.value); err != nil {
			errs = append(errs, *err)
		}
	}

	if cfg.DepartureTimezone != "" {
		if _, err := time.LoadLocation(cfg.DepartureTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "DEPARTURE_TIMEZONE",
				Message: fmt.Sprintf("unknown time zone: %v", err),
			})
		}
	}

	if cfg.NotifyWebhookURL != "" {
		u, err := url.Parse(cfg.NotifyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "NOTIFY_WEBHOOK_URL",
				Message: "must be an absolute http or https URL",
			})
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must not be negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDuration(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}
