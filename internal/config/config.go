// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (slot cache, rate limiting); optional
	RedisAddr string `koanf:"redis_addr"`

	// AMQP event fan-out; optional
	AMQPURL string `koanf:"amqp_url"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// Platform addresses
	OperatorAddress string `koanf:"operator_address"`
	PlatformAddress string `koanf:"platform_address"`

	// Slot economics. Amounts are integer base units.
	LockDurationSeconds   int   `koanf:"lock_duration_seconds"`
	EscrowDurationSeconds int   `koanf:"escrow_duration_seconds"`
	RefundPercentage      int64 `koanf:"refund_percentage"`
	MovieCreationDeposit  int64 `koanf:"movie_creation_deposit"`
	DefaultScenePrice     int64 `koanf:"default_scene_price"`

	// Revenue split in basis points; must sum to 10000.
	ParentShareBp           int64 `koanf:"parent_share_bp"`
	GrandparentShareBp      int64 `koanf:"grandparent_share_bp"`
	GreatGrandparentShareBp int64 `koanf:"great_grandparent_share_bp"`
	MovieOwnerShareBp       int64 `koanf:"movie_owner_share_bp"`
	PlatformShareBp         int64 `koanf:"platform_share_bp"`

	// S3-compatible asset storage; optional
	S3BucketName      string `koanf:"s3_bucket_name"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3MaxUploadSizeMB int    `koanf:"s3_max_upload_size_mb"`

	// Tracing
	TracingEnabled bool `koanf:"tracing_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret       = errors.New("JWT_SECRET is required")
	ErrMissingOperatorAddress = errors.New("OPERATOR_ADDRESS is required")
	ErrMissingPlatformAddress = errors.New("PLATFORM_ADDRESS is required")
	ErrMissingS3BucketName    = errors.New("S3_BUCKET_NAME is required")
	ErrMissingS3AccessKeyID   = errors.New("S3_ACCESS_KEY_ID is required")
	ErrMissingS3SecretKey     = errors.New("S3_SECRET_ACCESS_KEY is required")
	ErrMissingS3Endpoint      = errors.New("S3_ENDPOINT is required")
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrInvalidRefundPct       = errors.New("REFUND_PERCENTAGE must be between 0 and 100")
	ErrInvalidShares          = errors.New("revenue share basis points must sum to 10000")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultLockDurationSeconds   = 300
	DefaultEscrowDurationSeconds = 86400
	DefaultRefundPercentage      = 50
	DefaultMovieCreationDeposit  = 1_000_000
	DefaultScenePrice            = 7_000_000
	DefaultS3MaxUploadSizeMB     = 200

	DefaultParentShareBp           = 2000
	DefaultGrandparentShareBp      = 1000
	DefaultGreatGrandparentShareBp = 500
	DefaultMovieOwnerShareBp       = 5500
	DefaultPlatformShareBp         = 1000
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values. Returns the
// loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"PLOTLINE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	lockSecs, err := getEnvIntOrDefault("LOCK_DURATION_SECONDS", k.Int("lock_duration_seconds"), DefaultLockDurationSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	escrowSecs, err := getEnvIntOrDefault("ESCROW_DURATION_SECONDS", k.Int("escrow_duration_seconds"), DefaultEscrowDurationSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	refundPct, err := getEnvInt64OrDefault("REFUND_PERCENTAGE", k.Int64("refund_percentage"), DefaultRefundPercentage)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	deposit, err := getEnvInt64OrDefault("MOVIE_CREATION_DEPOSIT", k.Int64("movie_creation_deposit"), DefaultMovieCreationDeposit)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	scenePrice, err := getEnvInt64OrDefault("DEFAULT_SCENE_PRICE", k.Int64("default_scene_price"), DefaultScenePrice)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxUploadSize, err := getEnvIntOrDefault("S3_MAX_UPLOAD_SIZE_MB", k.Int("s3_max_upload_size_mb"), DefaultS3MaxUploadSizeMB)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	shares := [5]int64{}
	for i, def := range []struct {
		env  string
		key  string
		dflt int64
	}{
		{"PARENT_SHARE_BP", "parent_share_bp", DefaultParentShareBp},
		{"GRANDPARENT_SHARE_BP", "grandparent_share_bp", DefaultGrandparentShareBp},
		{"GREAT_GRANDPARENT_SHARE_BP", "great_grandparent_share_bp", DefaultGreatGrandparentShareBp},
		{"MOVIE_OWNER_SHARE_BP", "movie_owner_share_bp", DefaultMovieOwnerShareBp},
		{"PLATFORM_SHARE_BP", "platform_share_bp", DefaultPlatformShareBp},
	} {
		v, shareErr := getEnvInt64OrDefault(def.env, k.Int64(def.key), def.dflt)
		if shareErr != nil {
			loadErrs = append(loadErrs, shareErr)
		}
		shares[i] = v
	}

	tracingEnabled := false
	if k.Exists("tracing_enabled") {
		tracingEnabled = k.Bool("tracing_enabled")
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	cfg := &Config{
		Port:                    port,
		Env:                     getEnvOrDefaultMulti([]string{"PLOTLINE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:             getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:               getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		AMQPURL:                 getEnvOrKoanf("AMQP_URL", k, "amqp_url"),
		JWTSecret:               getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		OperatorAddress:         getEnvOrKoanf("OPERATOR_ADDRESS", k, "operator_address"),
		PlatformAddress:         getEnvOrKoanf("PLATFORM_ADDRESS", k, "platform_address"),
		LockDurationSeconds:     lockSecs,
		EscrowDurationSeconds:   escrowSecs,
		RefundPercentage:        refundPct,
		MovieCreationDeposit:    deposit,
		DefaultScenePrice:       scenePrice,
		ParentShareBp:           shares[0],
		GrandparentShareBp:      shares[1],
		GreatGrandparentShareBp: shares[2],
		MovieOwnerShareBp:       shares[3],
		PlatformShareBp:         shares[4],
		S3BucketName:            getEnvOrKoanf("S3_BUCKET_NAME", k, "s3_bucket_name"),
		S3AccessKeyID:           getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey:       getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3Endpoint:              getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3MaxUploadSizeMB:       maxUploadSize,
		TracingEnabled:          tracingEnabled,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// LockDuration returns the off-ledger slot lock TTL.
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.LockDurationSeconds) * time.Second
}

// EscrowDuration returns the on-ledger escrow window.
func (c *Config) EscrowDuration() time.Duration {
	return time.Duration(c.EscrowDurationSeconds) * time.Second
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the
// koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or
// default.
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

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the environment
// variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer", envKey)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
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

// getEnvInt64OrDefault returns the environment variable as int64 if set,
// otherwise the koanf value, or default.
func getEnvInt64OrDefault(envKey string, koanfVal int64, defaultVal int64) (int64, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer", envKey)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.OperatorAddress == "" {
		errs = append(errs, ErrMissingOperatorAddress)
	}
	if c.PlatformAddress == "" {
		errs = append(errs, ErrMissingPlatformAddress)
	}
	if c.RefundPercentage < 0 || c.RefundPercentage > 100 {
		errs = append(errs, ErrInvalidRefundPct)
	}
	if c.ParentShareBp+c.GrandparentShareBp+c.GreatGrandparentShareBp+c.MovieOwnerShareBp+c.PlatformShareBp != 10000 {
		errs = append(errs, ErrInvalidShares)
	}

	// S3 configuration is optional. Only validate fields if any value is set.
	if c.S3BucketName != "" || c.S3AccessKeyID != "" || c.S3SecretAccessKey != "" || c.S3Endpoint != "" {
		if c.S3BucketName == "" {
			errs = append(errs, ErrMissingS3BucketName)
		}
		if c.S3AccessKeyID == "" {
			errs = append(errs, ErrMissingS3AccessKeyID)
		}
		if c.S3SecretAccessKey == "" {
			errs = append(errs, ErrMissingS3SecretKey)
		}
		if c.S3Endpoint == "" {
			errs = append(errs, ErrMissingS3Endpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"redis_addr":              c.RedisAddr,
		"amqp_url":                maskDatabaseURL(c.AMQPURL),
		"jwt_secret":              maskSecret(c.JWTSecret),
		"operator_address":        c.OperatorAddress,
		"platform_address":        c.PlatformAddress,
		"lock_duration_seconds":   fmt.Sprintf("%d", c.LockDurationSeconds),
		"escrow_duration_seconds": fmt.Sprintf("%d", c.EscrowDurationSeconds),
		"refund_percentage":       fmt.Sprintf("%d", c.RefundPercentage),
		"movie_creation_deposit":  fmt.Sprintf("%d", c.MovieCreationDeposit),
		"default_scene_price":     fmt.Sprintf("%d", c.DefaultScenePrice),
		"s3_bucket_name":          c.S3BucketName,
		"s3_access_key_id":        maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":    maskSecret(c.S3SecretAccessKey),
		"s3_endpoint":             c.S3Endpoint,
		"s3_max_upload_size_mb":   fmt.Sprintf("%d", c.S3MaxUploadSizeMB),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters
// followed by ****. If the secret is shorter than 8 characters, it's fully
// masked.
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
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

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

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
