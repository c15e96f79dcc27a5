package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	PromptProviderOpenAI = "openai"
	PromptProviderStatic = "static"

	StorageBackendSupabase   = "supabase"
	StorageBackendFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
// The gateway and the worker share one config surface; ValidateWorker covers
// the worker-only requirements.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	NATSURL        string
	QueueStream    string
	QueueSubject   string
	QueuePopWait   time.Duration
	WorkerIdle     time.Duration
	StageTimeout   time.Duration
	PromptProvider string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	SDBaseURL  string
	SDSteps    int
	SDGuidance float64
	SDWidth    int
	SDHeight   int

	StorageBackend     string
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	StoragePath        string
	StorageBaseURL     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		NATSURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		QueueStream:    getEnv("QUEUE_STREAM", "JOBS"),
		QueueSubject:   getEnv("QUEUE_SUBJECT", "jobs.illustrate"),
		QueuePopWait:   time.Second * time.Duration(getEnvInt("QUEUE_POP_TIMEOUT_SECONDS", 5)),
		WorkerIdle:     time.Second * time.Duration(getEnvInt("WORKER_IDLE_SECONDS", 600)),
		StageTimeout:   time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 120)),
		PromptProvider: getEnv("PROMPT_PROVIDER", PromptProviderOpenAI),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		SDBaseURL:  os.Getenv("SD_BASE_URL"),
		SDSteps:    getEnvInt("SD_STEPS", 16),
		SDGuidance: getEnvFloat("SD_GUIDANCE", 6.0),
		SDWidth:    getEnvInt("SD_WIDTH", 768),
		SDHeight:   getEnvInt("SD_HEIGHT", 768),

		StorageBackend:     getEnv("STORAGE_BACKEND", StorageBackendSupabase),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "diary-illustrations"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// ValidateWorker checks the credentials the worker's pipeline stages need.
// Missing credentials abort worker startup rather than failing the first job.
func (c *Config) ValidateWorker() error {
	if c.SDBaseURL == "" {
		return fmt.Errorf("SD_BASE_URL is required")
	}
	switch c.PromptProvider {
	case PromptProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when PROMPT_PROVIDER=openai")
		}
	case PromptProviderStatic:
	default:
		return fmt.Errorf("unsupported PROMPT_PROVIDER %q", c.PromptProvider)
	}
	switch c.StorageBackend {
	case StorageBackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when STORAGE_BACKEND=supabase")
		}
	case StorageBackendFilesystem:
		if c.StoragePath == "" {
			return fmt.Errorf("STORAGE_PATH is required when STORAGE_BACKEND=filesystem")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
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

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
