package config

import (
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string `long:"port" env:"PORT" default:"8080" description:"HTTP listen port"`
	DatabaseURL    string `long:"db-dsn" env:"DB_DSN" description:"PostgreSQL connection string"`
	StoreDriver    string `long:"store-driver" env:"STORE_DRIVER" default:"postgres" choice:"postgres" choice:"memory" description:"persistence gateway implementation"`
	OfficeTimezone string `long:"office-timezone" env:"OFFICE_TIMEZONE" default:"UTC" description:"zone used to decide what today is"`
	PolicyFile     string `long:"policy-file" env:"POLICY_FILE" description:"YAML scheduling policy"`
	SlotCapacity   int    `long:"slot-capacity" env:"SLOT_CAPACITY" default:"10" description:"appointments per office and hour unless overridden"`
	JWTSecret      string `long:"jwt-secret" env:"JWT_SECRET" description:"HS256 secret; empty trusts gateway identity headers"`

	RateLimitPerMinute     int `long:"rate-limit-per-min" env:"RATE_LIMIT_PER_MIN" default:"120"`
	RateLimitBurst         int `long:"rate-limit-burst" env:"RATE_LIMIT_BURST" default:"30"`
	UserRateLimitPerMinute int `long:"user-rate-limit-per-min" env:"USER_RATE_LIMIT_PER_MIN" default:"600"`
	UserRateLimitBurst     int `long:"user-rate-limit-burst" env:"USER_RATE_LIMIT_BURST" default:"120"`

	Notify Notify `group:"notify" namespace:"notify" env-namespace:"NOTIFY"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"json" choice:"json" choice:"text"`

	OTLPEndpoint string `long:"otlp-endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `long:"otlp-insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

type Notify struct {
	Sink           string `long:"sink" env:"SINK" default:"log" choice:"log" choice:"webhook" choice:"redis" choice:"stream"`
	WebhookURL     string `long:"webhook-url" env:"WEBHOOK_URL"`
	WebhookToken   string `long:"webhook-token" env:"WEBHOOK_TOKEN"`
	RedisAddr      string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379"`
	RedisChannel   string `long:"redis-channel" env:"REDIS_CHANNEL" default:"qms.notifications"`
	StreamTopic    string `long:"stream-topic" env:"STREAM_TOPIC" default:"qms.notifications"`
	Buffer         int    `long:"buffer" env:"BUFFER" default:"256"`
	TimeoutSeconds int    `long:"timeout-seconds" env:"TIMEOUT_SECONDS" default:"5"`
}

func (n Notify) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// Load reads an optional .env file, then environment and flags. Flags win
// over environment, environment over defaults.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
	}
	if c.SlotCapacity <= 0 {
		return fmt.Errorf("SLOT_CAPACITY must be positive, got %d", c.SlotCapacity)
	}
	if c.Notify.Sink == "webhook" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_SINK=webhook")
	}
	return nil
}
