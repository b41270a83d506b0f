package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath        string
	RawDocDir     string
	OutputDir     string
	SuppliersFile string

	FetchTimeoutMs    int
	FetchRateLimitRPS int
	FetchUserAgent    string

	MaxConcurrentRuns    int
	InferenceMaxRows     int
	TrustInferredRules   bool
	DefaultStockSentinel float64

	GoogleAPIKey       string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string

	MailProvider     string
	MailLookbackDays int

	SchedulerInterval time.Duration
	RunLeaseTTL       time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:        getEnv("DB_PATH", filepath.Join(cwd, "data", "fabricsync.db")),
		RawDocDir:     getEnv("RAW_DOC_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:     getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		SuppliersFile: getEnv("SUPPLIERS_FILE", filepath.Join(cwd, "suppliers.toml")),

		FetchTimeoutMs:    getEnvInt("FETCH_TIMEOUT_MS", 30000),
		FetchRateLimitRPS: getEnvInt("FETCH_RATE_LIMIT_RPS", 2),
		FetchUserAgent:    getEnv("FETCH_USER_AGENT", "fabricsync/1.0"),

		MaxConcurrentRuns:    getEnvInt("MAX_CONCURRENT_RUNS", 4),
		InferenceMaxRows:     getEnvInt("INFERENCE_MAX_ROWS", 20),
		TrustInferredRules:   getEnvBool("TRUST_INFERRED_RULES", false),
		DefaultStockSentinel: getEnvFloat("DEFAULT_STOCK_SENTINEL", 100),

		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),

		MailProvider:     getEnv("MAIL_PROVIDER", "imap"),
		MailLookbackDays: getEnvInt("MAIL_LOOKBACK_DAYS", 7),

		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL_SEC", 60*time.Second),
		RunLeaseTTL:       getEnvDuration("RUN_LEASE_SEC", 30*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// FetchTimeout is the per-document deadline for network sources.
func (c Config) FetchTimeout() time.Duration {
	if c.FetchTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

// RunLease is how long a supplier run lease holds before another process
// may take it over.
func (c Config) RunLease() time.Duration {
	if c.RunLeaseTTL <= 0 {
		return 30 * time.Minute
	}
	return c.RunLeaseTTL
}

// HasGoogleOAuth reports whether refresh-token credentials are configured.
func (c Config) HasGoogleOAuth() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRefreshToken != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads whole seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	secs := getEnvInt(key, -1)
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
