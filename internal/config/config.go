package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Gemini    GeminiConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	HTTPPort           string
	MetricsPort        string
	Environment        string
	LogLevel           string
	LogFilePath        string
	StaticDir          string
	CorsAllowedOrigins []string
}

type DatabaseConfig struct {
	Driver string // "sqlite3" or "postgres"
	URL    string
}

type AuthConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RedisConfig struct {
	URL string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// IsProduction reports whether the service runs with production defaults
// (secure cookies, JSON console logs).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// Load reads the environment (and a .env file when present) into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		App: AppConfig{
			HTTPPort:           getEnv("HTTP_PORT", "8080"),
			MetricsPort:        getEnv("METRICS_PORT", "9090"),
			Environment:        getEnv("APP_ENV", "development"),
			LogLevel:           getEnv("LOG_LEVEL", "INFO"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "career_chat.log"),
			StaticDir:          getEnv("STATIC_DIR", "./web"),
			CorsAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite3")),
			URL:    getEnv("DATABASE_URL", "career_chat.db"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			SessionTTL: getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Gemini: GeminiConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			BaseURL: getEnv("GEMINI_BASE_URL", ""),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
			Timeout: getEnvAsDuration("GEMINI_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	var errs []error
	if c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		errs = append(errs, errors.New("DATABASE_DRIVER must be sqlite3 or postgres"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
