package config

import (
	"fmt"
	"strings"
	"time"
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
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// Sessions live in Redis; without it, login is impossible.
	if cfg.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required",
		})
	}

	if cfg.ProviderBaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "PROVIDER_BASE_URL",
			Message: "required",
		})
	} else if !strings.HasPrefix(cfg.ProviderBaseURL, "http://") && !strings.HasPrefix(cfg.ProviderBaseURL, "https://") {
		errs = append(errs, ValidationError{
			Field:   "PROVIDER_BASE_URL",
			Message: fmt.Sprintf("must start with http:// or https://, got %q", cfg.ProviderBaseURL),
		})
	}

	if cfg.ProviderAPIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "PROVIDER_API_KEY",
			Message: "required",
		})
	}

	errs = appendDurationErrors(errs, "SWEEP_INTERVAL", cfg.SweepIntervalStr)
	errs = appendDurationErrors(errs, "TOKEN_TTL", cfg.TokenTTLStr)
	errs = appendDurationErrors(errs, "PROVIDER_TIMEOUT", cfg.ProviderTimeoutStr)
	errs = appendDurationErrors(errs, "DRAIN_TIMEOUT", cfg.DrainTimeoutStr)
	errs = appendDurationErrors(errs, "SESSION_TTL", cfg.SessionTTLStr)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrors(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
