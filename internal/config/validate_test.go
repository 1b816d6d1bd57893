package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		DatabaseURL:        "postgres://localhost/futuremsg",
		RedisAddr:          "localhost:6379",
		ProviderBaseURL:    "https://provider.example.com",
		ProviderAPIKey:     "key",
		SweepIntervalStr:   "60s",
		TokenTTLStr:        "50m",
		ProviderTimeoutStr: "30s",
		DrainTimeoutStr:    "30s",
		SessionTTLStr:      "24h",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := Config{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for empty config")
	}

	msg := err.Error()
	for _, field := range []string{"DATABASE_URL", "REDIS_ADDR", "PROVIDER_BASE_URL", "PROVIDER_API_KEY"} {
		if !strings.Contains(msg, field) {
			t.Errorf("expected %s in error, got: %s", field, msg)
		}
	}
}

func TestValidate_ProviderURLScheme(t *testing.T) {
	cfg := validConfig()
	cfg.ProviderBaseURL = "provider.example.com"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "PROVIDER_BASE_URL") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestValidate_BadDurations(t *testing.T) {
	cases := []struct {
		field string
		set   func(*Config)
	}{
		{"SWEEP_INTERVAL", func(c *Config) { c.SweepIntervalStr = "sixty" }},
		{"TOKEN_TTL", func(c *Config) { c.TokenTTLStr = "-5m" }},
		{"PROVIDER_TIMEOUT", func(c *Config) { c.ProviderTimeoutStr = "0s" }},
		{"DRAIN_TIMEOUT", func(c *Config) { c.DrainTimeoutStr = "later" }},
		{"SESSION_TTL", func(c *Config) { c.SessionTTLStr = "-1h" }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.set(&cfg)

		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.field) {
			t.Errorf("%s: expected validation error, got %v", tc.field, err)
		}
	}
}

func TestValidationErrors_MultipleFormatted(t *testing.T) {
	errs := ValidationErrors{
		{Field: "A", Message: "required"},
		{Field: "B", Message: "required"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("expected count prefix, got %q", msg)
	}
}
