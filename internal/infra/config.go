package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	RedisURL         string
	QueuePrefix      string
	StoragePath      string
	StorageBaseURL   string
	GeoIPDBPath      string
	DefaultLocale    string
	GenAIAPIKey      string
	GenAIModel       string
	GenAIBaseURL     string
	WorkerCount      int
	JobTimeout       time.Duration
	RateLimitBudget  int
	RateLimitWindow  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueuePrefix:      getEnv("QUEUE_PREFIX", "outcome-jobs"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:8080/files"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		GenAIAPIKey:      os.Getenv("GENAI_API_KEY"),
		GenAIModel:       getEnv("GENAI_MODEL", "gemini-2.5-flash-image"),
		GenAIBaseURL:     getEnv("GENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		WorkerCount:      getEnvInt("WORKER_COUNT", 10),
		JobTimeout:       time.Minute * time.Duration(getEnvInt("JOB_TIMEOUT_MINUTES", 10)),
		RateLimitBudget:  getEnvInt("RATE_LIMIT_BUDGET", 120),
		RateLimitWindow:  time.Second * time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
