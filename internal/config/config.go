package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type WebhookConfig struct {
	// SigningSecret is the shared secret for the HMAC body signature. The
	// process refuses to start without it.
	SigningSecret string `mapstructure:"signing_secret"`

	// RetryAfter is the hint returned with 503 responses so the CRM backs
	// off before redelivering.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type QueueConfig struct {
	MaxSize   int64         `mapstructure:"max_size"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

type WorkerConfig struct {
	Count       int           `mapstructure:"count"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

type DeadLetterConfig struct {
	NatsURL string `mapstructure:"nats_url"`
	Stream  string `mapstructure:"stream"`
}

type MemoryConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	// CriticalFields force a sync when any of them appears in an update's
	// modified fields.
	CriticalFields []string `mapstructure:"critical_fields"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 1048576)
	v.SetDefault("webhook.retry_after", "30s")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("dedup.ttl", "3600s")
	v.SetDefault("queue.max_size", 10000)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.batch_wait", "5s")
	v.SetDefault("worker.count", 3)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.backoff_base", "2s")
	v.SetDefault("worker.backoff_cap", "30s")
	v.SetDefault("worker.sync_timeout", "30s")
	v.SetDefault("dead_letter.nats_url", "nats://localhost:4222")
	v.SetDefault("dead_letter.stream", "CRMSYNC_DLQ")
	v.SetDefault("memory.url", "http://localhost:8090")
	v.SetDefault("memory.timeout", "30s")
	v.SetDefault("sync.critical_fields", []string{
		"Account_Status", "Health_Score", "Owner", "Annual_Revenue", "Account_Type", "Industry",
	})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crmsync")
	}

	// Environment variables override
	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
