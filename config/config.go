package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Inventory InventoryConfig `yaml:"inventory"`
	Payment   PaymentConfig   `yaml:"payment"`
	Booking   BookingConfig   `yaml:"booking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	Mode            string        `yaml:"mode" validate:"oneof=debug release test"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type GRPCConfig struct {
	Address string `yaml:"address" validate:"required"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers" validate:"required,min=1"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic" validate:"required"`
	GroupID            string   `yaml:"group_id"`
	PublishRetries     int      `yaml:"publish_retries" validate:"gte=0"`
}

type InventoryConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type PaymentConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Currency  string        `yaml:"currency" validate:"required"`
	MinorUnit int64         `yaml:"minor_unit" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

type BookingConfig struct {
	PaymentWindow         time.Duration `yaml:"payment_window" validate:"gt=0"`
	IdempotencyPendingTTL time.Duration `yaml:"idempotency_pending_ttl" validate:"gt=0"`
	IdempotencyRetention  time.Duration `yaml:"idempotency_retention" validate:"gt=0"`
	CommitRetries         int           `yaml:"commit_retries" validate:"min=1"`
	FlightsCacheTTL       time.Duration `yaml:"flights_cache_ttl" validate:"gt=0"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	SweepBatch    int           `yaml:"sweep_batch" validate:"min=1"`
	ReleaseRate   float64       `yaml:"release_rate" validate:"gt=0"`
	SweepLockTTL  time.Duration `yaml:"sweep_lock_ttl" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns a configuration usable for local development; LoadConfig
// overlays the file on top of it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         ":8080",
			Mode:            "release",
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC: GRPCConfig{Address: ":9090"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "flights_booking",
			SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			BookingEventsTopic: "booking-events",
			NotificationsTopic: "notifications",
			GroupID:            "notification-worker",
			PublishRetries:     3,
		},
		Inventory: InventoryConfig{
			BaseURL: "http://localhost:3000/api/v1",
			Timeout: 5 * time.Second,
		},
		Payment: PaymentConfig{
			Currency:  "inr",
			MinorUnit: 100,
			Timeout:   15 * time.Second,
		},
		Booking: BookingConfig{
			PaymentWindow:         5 * time.Minute,
			IdempotencyPendingTTL: 2 * time.Minute,
			IdempotencyRetention:  7 * 24 * time.Hour,
			CommitRetries:         3,
			FlightsCacheTTL:       30 * time.Second,
		},
		Worker: WorkerConfig{
			SweepInterval: time.Minute,
			SweepBatch:    100,
			ReleaseRate:   20,
			SweepLockTTL:  time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Payment.SecretKey = v
	}
	if v := os.Getenv("INVENTORY_URL"); v != "" {
		cfg.Inventory.BaseURL = v
	}
}

// Path resolves the config file location the same way for every binary.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
