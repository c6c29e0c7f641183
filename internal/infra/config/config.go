package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN      string `envconfig:"PG_DSN"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"engagement.db"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Rabbit struct {
		URL      string `envconfig:"RABBITMQ_URL"`
		Exchange string `envconfig:"EVENTS_EXCHANGE" default:"engagement.events"`
	} `envconfig:""`

	Telegram struct {
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"session.json"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"20"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Auth struct {
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	} `envconfig:""`

	Workflow struct {
		PolicyFile       string        `envconfig:"POLICY_FILE" default:"policy.yaml"`
		AdapterTimeout   time.Duration `envconfig:"ADAPTER_TIMEOUT" default:"45s"`
		BatchConcurrency int           `envconfig:"BATCH_CONCURRENCY" default:"4"`
	} `envconfig:""`

	Schedule struct {
		AnalyticsInterval time.Duration `envconfig:"ANALYTICS_SYNC_INTERVAL" default:"6h"`
		Scopes            []string      `envconfig:"ANALYTICS_SYNC_SCOPES"`
	} `envconfig:""`
}

// Load загружает конфиг из .env (если он есть) и окружения.
func Load() AppConfig {
	if err := loadDotEnv(".env"); err != nil {
		log.Fatalf("не удалось прочитать .env: %v", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
