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
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	LiveKit  LiveKitConfig
	Meetings MeetingsConfig
	Usage    UsageConfig
	Summary  SummaryConfig
	AWS      AWSConfig
	Webhook  WebhookConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string        // comma-separated, or "*" for all
	CORSMaxAge         time.Duration // how long browsers may cache a preflight answer
	RunWorker          bool          // run the post-processing worker inside the API process
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32 // 0 keeps the pgx default
	MinConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // 0 keeps the go-redis default
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	Issuer      string
	ExpireHours int
}

// LiveKitConfig holds the media-transport credentials used for access tokens and webhook verification.
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// MeetingsConfig tunes the meeting lifecycle.
type MeetingsConfig struct {
	Store           string        // "postgres" or "memory"
	DispatchTimeout time.Duration // budget for handing a finalized meeting to post-processing
	EndingGrace     time.Duration // sessions left in "ending" longer than this are reconciled
	SweepInterval   time.Duration
	HistoryLimit    int
}

// UsageConfig holds monthly meeting quotas per plan. Zero means unlimited.
type UsageConfig struct {
	FreeMonthlyMeetings int
	ProMonthlyMeetings  int
}

// SummaryConfig holds the AI summarizer settings.
type SummaryConfig struct {
	AnthropicAPIKey string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	WorkerCount     int
}

// AWSConfig holds AWS credentials and the transcript archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TranscriptsBucket    string
	PresignExpireMinutes int
}

// WebhookConfig holds shared secrets for inbound occupancy signals.
type WebhookConfig struct {
	OccupancySecret string
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

// ArchiveEnabled reports whether transcripts should be archived to S3.
func (c AWSConfig) ArchiveEnabled() bool {
	return c.Region != "" && c.TranscriptsBucket != ""
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
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			CORSMaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
			RunWorker:          getEnvBool("RUN_WORKER", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "aura"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer:      getEnv("JWT_ISSUER", "aura-meetings"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		LiveKit: LiveKitConfig{
			URL:       getEnv("LIVEKIT_URL", ""),
			APIKey:    getEnv("LIVEKIT_API_KEY", ""),
			APISecret: getEnv("LIVEKIT_API_SECRET", ""),
			TokenTTL:  getEnvDuration("LIVEKIT_TOKEN_TTL", 6*time.Hour),
		},
		Meetings: MeetingsConfig{
			Store:           strings.ToLower(getEnv("MEETINGS_STORE", "postgres")),
			DispatchTimeout: getEnvDuration("MEETINGS_DISPATCH_TIMEOUT", 5*time.Second),
			EndingGrace:     getEnvDuration("MEETINGS_ENDING_GRACE", 2*time.Minute),
			SweepInterval:   getEnvDuration("MEETINGS_SWEEP_INTERVAL", 30*time.Second),
			HistoryLimit:    getEnvInt("MEETINGS_HISTORY_LIMIT", 50),
		},
		Usage: UsageConfig{
			FreeMonthlyMeetings: getEnvInt("USAGE_FREE_MONTHLY_MEETINGS", 10),
			ProMonthlyMeetings:  getEnvInt("USAGE_PRO_MONTHLY_MEETINGS", 0),
		},
		Summary: SummaryConfig{
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:           getEnv("SUMMARY_MODEL", "claude-haiku-4-5"),
			BaseURL:         getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Timeout:         getEnvDuration("SUMMARY_TIMEOUT", 60*time.Second),
			WorkerCount:     getEnvInt("SUMMARY_WORKERS", 2),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TranscriptsBucket:    getEnv("AWS_S3_TRANSCRIPTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Webhook: WebhookConfig{
			OccupancySecret: getEnv("OCCUPANCY_WEBHOOK_SECRET", ""),
		},
	}

	if cfg.Meetings.Store != "postgres" && cfg.Meetings.Store != "memory" {
		return nil, fmt.Errorf("MEETINGS_STORE must be postgres or memory, got %q", cfg.Meetings.Store)
	}
	if cfg.Summary.WorkerCount < 1 {
		cfg.Summary.WorkerCount = 1
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "2m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
