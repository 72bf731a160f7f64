package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/seezam/finbot/internal/models/events"
)

const (
	Development = "development"
	Production  = "production"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	BotToken      string `validate:"required"`
	AllowedUserID int64  `validate:"required,gt=0"`
	WebhookSecret string

	Port            int           `validate:"gt=0,lte=65535"`
	Environment     string        `validate:"oneof=development production"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	InteractionTimeout time.Duration `validate:"gt=0"`

	StorageBackend string `validate:"oneof=memory file redis postgres"`
	SessionBackend string `validate:"oneof=memory file redis postgres"`
	DataFile       string `validate:"required_if=StorageBackend file"`

	Redis       Redis
	DatabaseURL string

	KafkaBrokers []string
	KafkaTopic   string `validate:"required"`
}

type Redis struct {
	Addr     string `validate:"required"`
	Password string
	DB       int    `validate:"gte=0"`
	Prefix   string `validate:"required"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	storageBackend := getEnv("STORAGE_BACKEND", BackendFile)
	cfg := &Config{
		BotToken:      getEnv("BOT_TOKEN", ""),
		AllowedUserID: getEnvInt64("ALLOWED_USER_ID", 0),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		Port:            getEnvInt("PORT", 3000),
		Environment:     getEnv("ENVIRONMENT", Production),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		InteractionTimeout: getEnvDuration("INTERACTION_TIMEOUT", 10*time.Second),

		StorageBackend: storageBackend,
		SessionBackend: getEnv("SESSION_BACKEND", storageBackend),
		DataFile:       getEnv("DATA_FILE", "data.json"),

		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "finbot"),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", events.TopicTransactionRecorded),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.uses(BackendPostgres) && c.DatabaseURL == "" {
		return fmt.Errorf("invalid config: DATABASE_URL is required for the postgres backend")
	}
	return nil
}

func (c *Config) uses(backend string) bool {
	return c.StorageBackend == backend || c.SessionBackend == backend
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
