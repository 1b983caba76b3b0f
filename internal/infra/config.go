package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	GeoIPDBPath      string
	RedisURL         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
	DefaultLocale    string

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	GCSBucket      string
	GCSCDNDomain   string
	GCSReadMedia   bool

	SoraAPIKey       string
	SoraBaseURL      string
	SoraModel        string
	VeoAPIKey        string
	VeoBaseURL       string
	VeoModel         string
	RunwayAPIKey     string
	RunwayBaseURL    string
	RunwayModel      string
	RunwayAPIVersion string

	CreditsPerSegment   int
	CreditsPerExtension int

	OperationExpectedShort time.Duration
	OperationExpectedLong  time.Duration
	SegmentSeconds         int
	ExtensionSeconds       int
	MaxChainSegments       int
	ExtensionClaimTimeout  time.Duration

	BackendTimeout       time.Duration
	ReconcileConcurrency int
	PollMinInterval      time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS"),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", "file")),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSCDNDomain:   os.Getenv("GCS_CDN_DOMAIN"),
		GCSReadMedia:   getEnvBool("GCS_READ_MEDIA", false),

		SoraAPIKey:       os.Getenv("SORA_API_KEY"),
		SoraBaseURL:      getEnv("SORA_BASE_URL", "https://api.openai.com/v1"),
		SoraModel:        getEnv("SORA_MODEL", "sora-2"),
		VeoAPIKey:        os.Getenv("VEO_API_KEY"),
		VeoBaseURL:       getEnv("VEO_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VeoModel:         getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		RunwayAPIKey:     os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL:    getEnv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com"),
		RunwayModel:      getEnv("RUNWAY_MODEL", "veo3.1_fast"),
		RunwayAPIVersion: getEnv("RUNWAY_API_VERSION", "2024-11-06"),

		CreditsPerSegment:   getEnvInt("CREDITS_PER_SEGMENT", 10),
		CreditsPerExtension: getEnvInt("CREDITS_PER_EXTENSION", 8),

		OperationExpectedShort: getEnvDuration("OPERATION_EXPECTED_SHORT", 70*time.Second),
		OperationExpectedLong:  getEnvDuration("OPERATION_EXPECTED_LONG", 110*time.Second),
		SegmentSeconds:         getEnvInt("VEO_SEGMENT_SECONDS", 8),
		ExtensionSeconds:       getEnvInt("VEO_EXTENSION_SECONDS", 7),
		MaxChainSegments:       getEnvInt("MAX_CHAIN_SEGMENTS", 20),
		ExtensionClaimTimeout:  getEnvDuration("EXTENSION_CLAIM_TIMEOUT", 2*time.Minute),

		BackendTimeout:       getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 8),
		PollMinInterval:      getEnvDuration("POLL_MIN_INTERVAL", 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "file":
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required when STORAGE_DRIVER=gcs")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.GCSReadMedia && cfg.GCSBucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET is required when GCS_READ_MEDIA is set")
	}

	if cfg.SegmentSeconds <= 0 || cfg.ExtensionSeconds <= 0 {
		return nil, fmt.Errorf("segment and extension seconds must be positive")
	}
	if cfg.MaxChainSegments < 1 {
		cfg.MaxChainSegments = 1
	}
	if cfg.ReconcileConcurrency < 1 {
		cfg.ReconcileConcurrency = 1
	}

	return cfg, nil
}

// UsesSQLite reports whether DATABASE_URL points at a local SQLite file.
func (c *Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite:")
}

// SQLitePath returns the file path portion of a sqlite: DATABASE_URL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite:")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}
