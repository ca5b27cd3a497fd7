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
	Server   ServerConfig
	Analysis AnalysisConfig
	Upload   UploadConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// AnalysisConfig points at the remote leak-analysis service.
type AnalysisConfig struct {
	BaseURL string        // e.g. http://localhost:8000; result paths resolve against it
	Timeout time.Duration // whole round trip (upload + analysis); 0 = no limit
}

// UploadConfig bounds and stores files selected by pages.
type UploadConfig struct {
	TempDir  string // spool directory for selected files; empty = os.TempDir()
	MaxBytes int64
	// Timeout replaces the server read/write timeouts for PUT /sessions/:id/file,
	// so it must cover sending MaxBytes on the slowest expected link.
	Timeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings. An empty URL disables attempt history.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis settings. An empty Addr disables pub/sub and archiving.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds credentials and the bucket receiving archived result videos.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// Enabled reports whether a Postgres DSN is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Enabled reports whether result archiving to S3 can run.
func (c AWSConfig) Enabled() bool { return c.Region != "" && c.ArchiveBucket != "" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	timeout, err := getEnvDuration("ANALYSIS_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	uploadTimeout, err := getEnvDuration("UPLOAD_TIMEOUT", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		Analysis: AnalysisConfig{
			BaseURL: strings.TrimRight(getEnv("ANALYSIS_URL", "http://localhost:8000"), "/"),
			Timeout: timeout,
		},
		Upload: UploadConfig{
			TempDir:  getEnv("UPLOAD_TEMP_DIR", ""),
			MaxBytes: int64(getEnvInt("MAX_UPLOAD_MB", 2048)) * 1024 * 1024,
			Timeout:  uploadTimeout,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	if cfg.Upload.MaxBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// SplitTrim splits a comma-separated setting, dropping blanks.
func SplitTrim(s, sep string) []string {
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
