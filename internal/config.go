package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Public app URL. Checkout returns here with ?session_id=...
	BaseURL string

	// Billing backend base URL used by the CLI
	BillingBaseURL string

	// Stripe Billing Configuration
	// In development, billing endpoints answer 501 if the secret key is empty.
	StripeSecretKey string
	PriceID         string
	TrialPriceID    string
	TrialDays       int

	// Firebase Configuration
	// With no project and no credentials the CLI runs local-only as a guest.
	FirebaseProjectID                string
	GoogleApplicationCredentials     string
	FirebaseServiceAccountJSONBase64 string
	TokenPath                        string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional, for S3-compatible test servers

	// Sync Configuration
	RemoteTimeout         time.Duration
	StatusRefreshInterval time.Duration
	WatchInterval         time.Duration

	// Rate limiting for the billing endpoints
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL:        getEnv("BASE_URL", "http://localhost:5173"),
		BillingBaseURL: getEnv("BILLING_BASE_URL", "http://localhost:8080"),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		PriceID:         getEnv("PRICE_ID", ""),
		TrialPriceID:    getEnv("TRIAL_PRICE_ID", ""),
		TrialDays:       getEnvInt("TRIAL_DAYS", 7),

		FirebaseProjectID:                getEnv("FIREBASE_PROJECT_ID", ""),
		GoogleApplicationCredentials:     getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseServiceAccountJSONBase64: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON_BASE64", ""),
		TokenPath:                        getEnv("TOKEN_PATH", defaultDataPath("token")),

		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", defaultDataPath("")),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		RemoteTimeout:         getEnvDuration("REMOTE_TIMEOUT", 2*time.Second),
		StatusRefreshInterval: getEnvDuration("STATUS_REFRESH_INTERVAL", 30*time.Second),
		WatchInterval:         getEnvDuration("WATCH_INTERVAL", time.Minute),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Validate storage configuration
	if c.StorageProvider == "r2" {
		if c.R2AccountID == "" && c.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if c.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	// Billing requires at least the subscription price
	if c.StripeSecretKey != "" && c.PriceID == "" {
		return fmt.Errorf("PRICE_ID is required when STRIPE_SECRET_KEY is set")
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("TRIAL_DAYS must not be negative, got: %d", c.TrialDays)
	}

	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got: %s", c.RemoteTimeout)
	}
	if c.WatchInterval < time.Second {
		return fmt.Errorf("WATCH_INTERVAL must be at least 1s, got: %s", c.WatchInterval)
	}
	if c.StatusRefreshInterval <= 0 {
		return fmt.Errorf("STATUS_REFRESH_INTERVAL must be positive, got: %s", c.StatusRefreshInterval)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got: %d", c.RateLimitRequests)
	}
	return nil
}

// FirebaseEnabled reports whether a project or credentials are configured.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseProjectID != "" ||
		c.GoogleApplicationCredentials != "" ||
		c.FirebaseServiceAccountJSONBase64 != ""
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// defaultDataPath returns name under the user config directory, falling
// back to a relative ./data directory.
func defaultDataPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "./data"
	} else {
		dir = filepath.Join(dir, "tandem")
	}
	if name == "" {
		return dir
	}
	return filepath.Join(dir, name)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
