package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App         App         `yaml:"app"`
	HTTP        HTTP        `yaml:"http"`
	Log         Log         `yaml:"log"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	Email       Email       `yaml:"email"`
	Worker      Worker      `yaml:"worker"`
	Idempotency Idempotency `yaml:"idempotency"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"newsletter-api"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"newsletter"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"IDEMPOTENCY_CACHE_TTL" env-default:"24h"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"newsletter-events"`
}

type Email struct {
	BaseURL     string        `yaml:"base_url" env:"EMAIL_BASE_URL" env-default:"http://localhost:8025"`
	Sender      string        `yaml:"sender" env:"EMAIL_SENDER" env-default:"newsletter@example.com"`
	Token       string        `yaml:"token" env:"EMAIL_TOKEN" env-default:""`
	SendTimeout time.Duration `yaml:"send_timeout" env:"EMAIL_SEND_TIMEOUT" env-default:"10s"`
}

type Worker struct {
	Workers       int           `yaml:"workers" env:"WORKER_COUNT" env-default:"1"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL" env-default:"5s"`
	ErrorInterval time.Duration `yaml:"error_interval" env:"WORKER_ERROR_INTERVAL" env-default:"1s"`
	MaxRetries    int           `yaml:"max_retries" env:"WORKER_MAX_RETRIES" env-default:"3"`
	BackoffBase   time.Duration `yaml:"backoff_base" env:"WORKER_BACKOFF_BASE" env-default:"10s"`
	BackoffCap    time.Duration `yaml:"backoff_cap" env:"WORKER_BACKOFF_CAP" env-default:"10m"`
	MetricsPort   string        `yaml:"metrics_port" env:"WORKER_METRICS_PORT" env-default:"9093"`
}

type Idempotency struct {
	LockTimeout time.Duration `yaml:"lock_timeout" env:"IDEMPOTENCY_LOCK_TIMEOUT" env-default:"2s"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
