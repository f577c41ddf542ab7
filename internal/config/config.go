package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}
}

// Config is read once at boot and never mutated afterwards — §5 requires
// configuration be the only ambient read-only global.
type Config struct {
	AppEnv   string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string
	ProxyBaseURL   string

	ImageWorkerConcurrency int
	ModelWorkerConcurrency int

	SweeperInterval   time.Duration
	SweeperBatchSize  int
	SweeperMaxRetries int

	PrintPollInterval  time.Duration
	PrintPollBatchSize int

	ImageProviderMode string
	ImageProviderURL  string
	ImageProviderKey  string

	Model3DProviderURL string
	Model3DProviderKey string

	LLMProviderMode string
	LLMProviderURL  string
	LLMProviderKey  string
	LLMModel        string

	SlicerProviderURL string

	HTTPAddr string
}

// Load builds a Config from the process environment, applying the
// defaults named throughout spec §4 and §5.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3Region:     getEnv("S3_REGION", "auto"),
		S3Bucket:     os.Getenv("S3_BUCKET"),
		S3AccessKey:  os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:  os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3PublicURL:  os.Getenv("S3_PUBLIC_URL"),
		ProxyBaseURL: getEnv("PROXY_BASE_URL", "http://localhost:8080"),

		ImageWorkerConcurrency: getEnvInt("IMAGE_WORKER_CONCURRENCY", 2),
		ModelWorkerConcurrency: getEnvInt("MODEL_WORKER_CONCURRENCY", 1),

		SweeperInterval:   getEnvDuration("SWEEPER_INTERVAL", time.Hour),
		SweeperBatchSize:  getEnvInt("SWEEPER_BATCH_SIZE", 100),
		SweeperMaxRetries: getEnvInt("SWEEPER_MAX_RETRIES", 10),

		PrintPollInterval:  getEnvDuration("PRINT_POLL_INTERVAL", 10*time.Second),
		PrintPollBatchSize: getEnvInt("PRINT_POLL_BATCH_SIZE", 20),

		ImageProviderMode: getEnv("IMAGE_PROVIDER_MODE", "local"),
		ImageProviderURL:  getEnv("IMAGE_PROVIDER_URL", "http://localhost:8188"),
		ImageProviderKey:  os.Getenv("IMAGE_PROVIDER_API_KEY"),

		Model3DProviderURL: os.Getenv("MODEL3D_PROVIDER_URL"),
		Model3DProviderKey: os.Getenv("MODEL3D_PROVIDER_API_KEY"),

		LLMProviderMode: getEnv("LLM_PROVIDER_MODE", "local"),
		LLMProviderURL:  getEnv("LLM_PROVIDER_URL", "http://localhost:11434"),
		LLMProviderKey:  os.Getenv("LLM_PROVIDER_API_KEY"),
		LLMModel:        getEnv("LLM_MODEL", "llama3"),

		SlicerProviderURL: os.Getenv("SLICER_PROVIDER_URL"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || strings.EqualFold(c.AppEnv, "dev")
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
