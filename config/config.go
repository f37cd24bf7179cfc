package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Booking   BookingConfig
	Analytics AnalyticsConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins []string // "*" allows all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string // if set, used as-is
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr disables
// Redis: no job queue, analytics cache or cross-instance realtime.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AdminConfig names the account that is always granted the admin role.
type AdminConfig struct {
	Email string
}

// BookingConfig bounds the coordinator's retry of conflicting transactions.
type BookingConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// AnalyticsConfig controls rollup caching.
type AnalyticsConfig struct {
	CacheTTL time.Duration
}

// AWSConfig holds AWS credentials and the report export bucket. An empty
// ReportsBucket disables report uploads.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReportsBucket        string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "seatsync"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 0),
			MaxConnLifetime: time.Duration(getEnvInt("DB_MAX_CONN_LIFETIME_MIN", 0)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Admin: AdminConfig{
			Email: strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
		},
		Booking: BookingConfig{
			MaxAttempts:  getEnvInt("BOOKING_MAX_ATTEMPTS", 5),
			RetryBackoff: time.Duration(getEnvInt("BOOKING_RETRY_BACKOFF_MS", 10)) * time.Millisecond,
		},
		Analytics: AnalyticsConfig{
			CacheTTL: time.Duration(getEnvInt("ANALYTICS_CACHE_TTL_SEC", 60)) * time.Second,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Booking.MaxAttempts < 1 {
		return fmt.Errorf("BOOKING_MAX_ATTEMPTS must be at least 1, got %d", c.Booking.MaxAttempts)
	}
	if c.JWT.ExpireHours < 1 {
		return fmt.Errorf("JWT_EXPIRE_HOURS must be at least 1, got %d", c.JWT.ExpireHours)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
