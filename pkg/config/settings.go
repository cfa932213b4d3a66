package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database      DbSettings     `mapstructure:"database"`
	Broker        BrokerSettings `mapstructure:"broker"`
	Outbox        OutboxSettings `mapstructure:"outbox"`
	Health        HealthSettings `mapstructure:"health"`
	Observability Observability  `mapstructure:"observability"`
}

// OutboxSettings controls storage retry policy and the background worker.
type OutboxSettings struct {
	MaxRetries         int           `mapstructure:"max_retries" validate:"min=0"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff" validate:"min=0"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff" validate:"min=0"`
	BatchSize          int           `mapstructure:"batch_size" validate:"min=1"`
	ProcessingInterval time.Duration `mapstructure:"processing_interval" validate:"min=1000000"`
	EnableLogging      bool          `mapstructure:"enable_logging"`
}

// HealthSettings are the thresholds the health check compares against.
type HealthSettings struct {
	MaxErrorRate     float64 `mapstructure:"max_error_rate" validate:"min=0,max=100"`
	MaxPendingEvents int     `mapstructure:"max_pending_events" validate:"min=1"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// Default returns the settings the worker runs with when no file or
// environment overrides are present.
func Default() *Settings {
	return &Settings{
		Outbox: OutboxSettings{
			MaxRetries:         3,
			BaseBackoff:        time.Second,
			MaxBackoff:         60 * time.Second,
			BatchSize:          50,
			ProcessingInterval: 5 * time.Second,
			EnableLogging:      true,
		},
		Health: HealthSettings{
			MaxErrorRate:     10,
			MaxPendingEvents: 1000,
		},
	}
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := Default()
	viper.SetConfigType("yaml")
	viper.SetConfigName("worker")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	setDefaults(cfg)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "worker."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("merging %s config: %w", env, err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OUTBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like OUTBOX_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.db_name")
	viper.BindEnv("database.collection")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url")
	viper.BindEnv("broker.exchange")
	viper.BindEnv("broker.projectID")
	viper.BindEnv("outbox.max_retries")
	viper.BindEnv("outbox.base_backoff")
	viper.BindEnv("outbox.max_backoff")
	viper.BindEnv("outbox.batch_size")
	viper.BindEnv("outbox.processing_interval")
	viper.BindEnv("outbox.enable_logging")
	viper.BindEnv("health.max_error_rate")
	viper.BindEnv("health.max_pending_events")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func setDefaults(cfg *Settings) {
	viper.SetDefault("outbox.max_retries", cfg.Outbox.MaxRetries)
	viper.SetDefault("outbox.base_backoff", cfg.Outbox.BaseBackoff)
	viper.SetDefault("outbox.max_backoff", cfg.Outbox.MaxBackoff)
	viper.SetDefault("outbox.batch_size", cfg.Outbox.BatchSize)
	viper.SetDefault("outbox.processing_interval", cfg.Outbox.ProcessingInterval)
	viper.SetDefault("outbox.enable_logging", cfg.Outbox.EnableLogging)
	viper.SetDefault("health.max_error_rate", cfg.Health.MaxErrorRate)
	viper.SetDefault("health.max_pending_events", cfg.Health.MaxPendingEvents)
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
