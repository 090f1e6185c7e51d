package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the linesense server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Upload     UploadConfig
	Analysis   AnalysisConfig
	Email      EmailConfig
	Processing ProcessingConfig
}

type ServerConfig struct {
	Port       int
	Env        string
	CORSOrigin string
}

// IsProduction reports whether error details must be hidden from clients.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL                string
	RateLimitPerMinute int
	StatsCacheTTL      time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	// AllowEmailReuse lets a new account register an email held by a soft-deleted one.
	AllowEmailReuse bool
}

type UploadConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	MaxBatchFiles     int
	Backend           string
	Dir               string
	MinIO             MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type AnalysisConfig struct {
	BaseURL           string
	Timeout           time.Duration
	Retries           int
	UseExternal       bool
	FallbackOnFailure bool
	ParallelWorkers   int
	// DatabaseURI is forwarded to the analysis service so it can persist its own copy.
	DatabaseURI string
}

type EmailConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	From            string
	ClientURL       string
	NotifyOnFailure bool
}

// Enabled reports whether SMTP credentials are configured.
func (e EmailConfig) Enabled() bool {
	return e.Username != "" && e.Password != ""
}

type ProcessingConfig struct {
	StaleAfter time.Duration
}

var validUploadBackends = map[string]bool{
	"disk":  true,
	"minio": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is read first; real environment variables win.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:       envInt("PORT", 5000),
			Env:        envString("APP_ENV", "development"),
			CORSOrigin: envString("CORS_ORIGIN", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:                os.Getenv("REDIS_URL"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 100),
			StatsCacheTTL:      envDuration("DASHBOARD_CACHE_TTL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			TokenTTL:        envDuration("JWT_EXPIRES_IN", 24*time.Hour),
			BcryptCost:      envInt("BCRYPT_COST", 10),
			AllowEmailReuse: envBool("ALLOW_EMAIL_REUSE_AFTER_DELETE", false),
		},
		Upload: UploadConfig{
			MaxFileSize:       int64(envInt("MAX_FILE_SIZE", 50*1024*1024)),
			AllowedExtensions: envList("ALLOWED_FILE_TYPES", []string{".txt", ".csv", ".pdf", ".json"}),
			MaxBatchFiles:     envInt("MAX_BATCH_FILES", 5),
			Backend:           envString("UPLOAD_BACKEND", "disk"),
			Dir:               envString("UPLOAD_DIR", "uploads"),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "linesense-uploads"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
			},
		},
		Analysis: AnalysisConfig{
			BaseURL:           envString("ANALYSIS_SERVICE_URL", "http://localhost:8000"),
			Timeout:           envDuration("ANALYSIS_SERVICE_TIMEOUT", 5*time.Minute),
			Retries:           envInt("ANALYSIS_SERVICE_RETRIES", 3),
			UseExternal:       envBool("USE_ANALYSIS_SERVICE", true),
			FallbackOnFailure: envBool("FALLBACK_TO_SIMULATION", true),
			ParallelWorkers:   envInt("PARALLEL_WORKERS", 4),
			DatabaseURI:       os.Getenv("ANALYSIS_DATABASE_URI"),
		},
		Email: EmailConfig{
			Host:            envString("EMAIL_HOST", "smtp.gmail.com"),
			Port:            envInt("EMAIL_PORT", 587),
			Username:        os.Getenv("EMAIL_USER"),
			Password:        os.Getenv("EMAIL_PASS"),
			From:            os.Getenv("EMAIL_FROM"),
			ClientURL:       envString("CLIENT_URL", "http://localhost:3000"),
			NotifyOnFailure: envBool("EMAIL_NOTIFY_ON_FAILURE", false),
		},
		Processing: ProcessingConfig{
			StaleAfter: envDuration("PROCESSING_STALE_AFTER", 30*time.Minute),
		},
	}

	if cfg.Email.From == "" {
		cfg.Email.From = cfg.Email.Username
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.Upload.MaxFileSize)
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_FILE_TYPES must list at least one extension")
	}
	if c.Upload.MaxBatchFiles < 1 {
		return fmt.Errorf("MAX_BATCH_FILES must be at least 1, got %d", c.Upload.MaxBatchFiles)
	}
	if !validUploadBackends[c.Upload.Backend] {
		return fmt.Errorf("UPLOAD_BACKEND must be one of disk, minio; got %q", c.Upload.Backend)
	}
	if c.Upload.Backend == "minio" && (c.Upload.MinIO.Endpoint == "" || c.Upload.MinIO.AccessKey == "" || c.Upload.MinIO.SecretKey == "") {
		return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when UPLOAD_BACKEND is minio")
	}

	if c.Analysis.UseExternal {
		if !strings.HasPrefix(c.Analysis.BaseURL, "http://") && !strings.HasPrefix(c.Analysis.BaseURL, "https://") {
			return fmt.Errorf("ANALYSIS_SERVICE_URL must start with http:// or https://, got %q", c.Analysis.BaseURL)
		}
	}
	if c.Analysis.Retries < 0 {
		return fmt.Errorf("ANALYSIS_SERVICE_RETRIES must not be negative, got %d", c.Analysis.Retries)
	}
	if c.Analysis.ParallelWorkers < 1 {
		return fmt.Errorf("PARALLEL_WORKERS must be at least 1, got %d", c.Analysis.ParallelWorkers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated value, lowercasing entries and adding a
// leading dot where one is missing.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
