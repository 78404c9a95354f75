// Package config provides configuration loading and validation for the discovery server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/onnwee/discovery/internal/validate"
)

// Config holds all configuration values for the discovery server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage. Both are optional; in-memory stores are used when unset.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Admin authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // accepted during rotation

	// Upstream collaborators (catalog, content descriptors, moderation intake, activity log)
	UpstreamURL   string `koanf:"upstream_url"`
	UpstreamToken string `koanf:"upstream_token"`

	// Ranking calibration file (weights, bands, modes)
	CalibrationPath string `koanf:"calibration_path"`

	// R2 (Cloudflare Object Storage) for fairness report archives
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`
	R2Prefix          string `koanf:"r2_prefix"`

	// Schedules use cron syntax with a leading seconds field, or @every descriptors.
	RefreshSchedule  string `koanf:"refresh_schedule"`
	FairnessSchedule string `koanf:"fairness_schedule"`

	// Base tuning parameters; the fairness auditor adjusts around these.
	GuaranteedSlots  int   `koanf:"guaranteed_slots"`
	DensityThreshold int64 `koanf:"density_threshold"`

	// Fairness audit thresholds
	MaxTopDecileShare   float64 `koanf:"max_top_decile_share"`
	MinNewCreatorShare  float64 `koanf:"min_new_creator_share"`
	MaxSpendCorrelation float64 `koanf:"max_spend_correlation"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// HTTP surface
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrInvalidSchedule          = errors.New("invalid schedule")
	ErrInvalidTuning            = errors.New("invalid tuning parameters")
	ErrInvalidThreshold         = errors.New("invalid fairness threshold")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultRefreshSchedule     = "@every 5m"
	DefaultFairnessSchedule    = "@every 1h"
	DefaultGuaranteedSlots     = 3
	DefaultDensityThreshold    = 2_000_000
	DefaultMaxTopDecileShare   = 0.5
	DefaultMinNewCreatorShare  = 0.05
	DefaultMaxSpendCorrelation = 0.1
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSampleRate   = 0.1
	DefaultRateLimitPerMinute  = 600
	DefaultR2Prefix            = "fairness"
)

var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"DISCOVERY_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	slots, err := getEnvIntOrDefault("GUARANTEED_SLOTS", k.Int("guaranteed_slots"), DefaultGuaranteedSlots)
	collect(err)
	threshold, err := getEnvIntOrDefault("DENSITY_THRESHOLD", k.Int("density_threshold"), DefaultDensityThreshold)
	collect(err)
	rateLimit, err := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	collect(err)
	topShare, err := getEnvFloatOrDefault("MAX_TOP_DECILE_SHARE", k.Float64("max_top_decile_share"), DefaultMaxTopDecileShare)
	collect(err)
	newShare, err := getEnvFloatOrDefault("MIN_NEW_CREATOR_SHARE", k.Float64("min_new_creator_share"), DefaultMinNewCreatorShare)
	collect(err)
	spendCorr, err := getEnvFloatOrDefault("MAX_SPEND_CORRELATION", k.Float64("max_spend_correlation"), DefaultMaxSpendCorrelation)
	collect(err)
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	collect(err)

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	origins := k.Strings("cors_allowed_origins")
	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		origins = nil
		for _, o := range strings.Split(val, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefaultMulti([]string{"DISCOVERY_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:           getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:   getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		UpstreamURL:         getEnvOrKoanf("UPSTREAM_URL", k, "upstream_url"),
		UpstreamToken:       getEnvOrKoanf("UPSTREAM_TOKEN", k, "upstream_token"),
		CalibrationPath:     getEnvOrKoanf("CALIBRATION_PATH", k, "calibration_path"),
		R2BucketName:        getEnvOrKoanf("R2_BUCKET_NAME", k, "r2_bucket_name"),
		R2AccessKeyID:       getEnvOrKoanf("R2_ACCESS_KEY_ID", k, "r2_access_key_id"),
		R2SecretAccessKey:   getEnvOrKoanf("R2_SECRET_ACCESS_KEY", k, "r2_secret_access_key"),
		R2Endpoint:          getEnvOrKoanf("R2_ENDPOINT", k, "r2_endpoint"),
		R2Prefix:            getEnvOrDefault("R2_PREFIX", k.String("r2_prefix"), DefaultR2Prefix),
		RefreshSchedule:     getEnvOrDefault("REFRESH_SCHEDULE", k.String("refresh_schedule"), DefaultRefreshSchedule),
		FairnessSchedule:    getEnvOrDefault("FAIRNESS_SCHEDULE", k.String("fairness_schedule"), DefaultFairnessSchedule),
		GuaranteedSlots:     slots,
		DensityThreshold:    int64(threshold),
		MaxTopDecileShare:   topShare,
		MinNewCreatorShare:  newShare,
		MaxSpendCorrelation: spendCorr,
		TracingEnabled:      tracingEnabled,
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:   sampleRate,
		RateLimitPerMinute:  rateLimit,
		CORSAllowedOrigins:  origins,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and in range.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range: %w", c.Port, ErrInvalidPort))
	}

	// R2 configuration is optional. Only validate fields if any R2 value is set.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		} else if _, err := validate.ServiceURL(c.R2Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("r2_endpoint: %w", err))
		}
	}
	if c.UpstreamURL != "" {
		if _, err := validate.ServiceURL(c.UpstreamURL); err != nil {
			errs = append(errs, fmt.Errorf("upstream_url: %w", err))
		}
	}

	for name, spec := range map[string]string{"refresh_schedule": c.RefreshSchedule, "fairness_schedule": c.FairnessSchedule} {
		if _, err := scheduleParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, spec, ErrInvalidSchedule))
		}
	}

	if c.GuaranteedSlots < 0 {
		errs = append(errs, fmt.Errorf("guaranteed_slots must not be negative: %w", ErrInvalidTuning))
	}
	if c.DensityThreshold <= 0 {
		errs = append(errs, fmt.Errorf("density_threshold must be positive: %w", ErrInvalidTuning))
	}
	for name, v := range map[string]float64{
		"max_top_decile_share":  c.MaxTopDecileShare,
		"min_new_creator_share": c.MinNewCreatorShare,
		"max_spend_correlation": c.MaxSpendCorrelation,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1]: %w", name, ErrInvalidThreshold))
		}
	}

	return errs
}

// R2Enabled reports whether report archiving is fully configured.
func (c *Config) R2Enabled() bool {
	return c.R2BucketName != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2Endpoint != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_previous_secret":   maskSecret(c.JWTPreviousSecret),
		"upstream_url":          c.UpstreamURL,
		"upstream_token":        maskSecret(c.UpstreamToken),
		"calibration_path":      c.CalibrationPath,
		"r2_bucket_name":        c.R2BucketName,
		"r2_access_key_id":      maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key":  maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":           c.R2Endpoint,
		"r2_prefix":             c.R2Prefix,
		"refresh_schedule":      c.RefreshSchedule,
		"fairness_schedule":     c.FairnessSchedule,
		"guaranteed_slots":      fmt.Sprintf("%d", c.GuaranteedSlots),
		"density_threshold":     fmt.Sprintf("%d", c.DensityThreshold),
		"max_top_decile_share":  fmt.Sprintf("%g", c.MaxTopDecileShare),
		"min_new_creator_share": fmt.Sprintf("%g", c.MinNewCreatorShare),
		"max_spend_correlation": fmt.Sprintf("%g", c.MaxSpendCorrelation),
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":      c.TracingExporter,
		"tracing_endpoint":      c.TracingEndpoint,
		"tracing_sample_rate":   fmt.Sprintf("%g", c.TracingSampleRate),
		"rate_limit_per_minute": fmt.Sprintf("%d", c.RateLimitPerMinute),
		"cors_allowed_origins":  strings.Join(c.CORSAllowedOrigins, ","),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
