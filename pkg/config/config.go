package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the claims service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Redis configuration
	Redis RedisConfig `mapstructure:"redis"`

	// Ledger configuration
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Adjudication configuration
	Adjudication AdjudicationConfig `mapstructure:"adjudication"`

	// Settlement configuration
	Settlement SettlementConfig `mapstructure:"settlement"`

	// Notification configuration
	Notifications NotificationConfig `mapstructure:"notifications"`

	// Reference data configuration
	Reference ReferenceConfig `mapstructure:"reference"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LedgerConfig holds the contract-call interface configuration
type LedgerConfig struct {
	RPCEndpoint     string `mapstructure:"rpc_endpoint"`
	ChannelName     string `mapstructure:"channel_name"`
	ContractAddress string `mapstructure:"contract_address"`
	Currency        string `mapstructure:"currency"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	BackoffInitial  int    `mapstructure:"backoff_initial_ms"`
	BackoffMax      int    `mapstructure:"backoff_max_ms"`
}

// AdjudicationConfig holds adjudication rule configuration
type AdjudicationConfig struct {
	// DuplicateWindowDays bounds how far back duplicate detection looks
	// for matching (patient, procedure, service date) claims.
	DuplicateWindowDays int `mapstructure:"duplicate_window_days"`
}

// SettlementConfig holds settlement dispatcher configuration
type SettlementConfig struct {
	AutoDispatch          bool `mapstructure:"auto_dispatch"`
	MaxRetries            int  `mapstructure:"max_retries"`
	ConfirmTimeoutSec     int  `mapstructure:"confirm_timeout_sec"`
	PollIntervalSec       int  `mapstructure:"poll_interval_sec"`
	SweepIntervalSec      int  `mapstructure:"sweep_interval_sec"`
	SweepGraceSec         int  `mapstructure:"sweep_grace_sec"`
	RequiredConfirmations int  `mapstructure:"required_confirmations"`
}

// NotificationConfig holds outbound event publishing configuration
type NotificationConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AMQPURL   string `mapstructure:"amqp_url"`
	QueueName string `mapstructure:"queue_name"`
}

// ReferenceConfig holds reference data snapshot configuration
type ReferenceConfig struct {
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// ConfirmTimeout returns the confirmation polling timeout as a duration.
func (c *SettlementConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSec) * time.Second
}

// PollInterval returns the confirmation polling interval as a duration.
func (c *SettlementConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/claims-engine")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	overrideWithEnv(&config)

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "claims")
	viper.SetDefault("database.user", "claims")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Ledger defaults
	viper.SetDefault("ledger.channel_name", "settlement")
	viper.SetDefault("ledger.currency", "USDC")
	viper.SetDefault("ledger.max_attempts", 4)
	viper.SetDefault("ledger.backoff_initial_ms", 250)
	viper.SetDefault("ledger.backoff_max_ms", 5000)

	// Adjudication defaults
	viper.SetDefault("adjudication.duplicate_window_days", 90)

	// Settlement defaults
	viper.SetDefault("settlement.auto_dispatch", true)
	viper.SetDefault("settlement.max_retries", 3)
	viper.SetDefault("settlement.confirm_timeout_sec", 120)
	viper.SetDefault("settlement.poll_interval_sec", 5)
	viper.SetDefault("settlement.sweep_interval_sec", 60)
	viper.SetDefault("settlement.sweep_grace_sec", 180)
	viper.SetDefault("settlement.required_confirmations", 1)

	// Notification defaults
	viper.SetDefault("notifications.enabled", false)
	viper.SetDefault("notifications.queue_name", "claim-events")

	// Reference data defaults
	viper.SetDefault("reference.refresh_interval_sec", 300)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		config.Notifications.AMQPURL = amqpURL
	}

	if rpc := os.Getenv("LEDGER_RPC_ENDPOINT"); rpc != "" {
		config.Ledger.RPCEndpoint = rpc
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement max_retries must not be negative")
	}

	if config.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger max_attempts must be at least 1")
	}

	if config.Notifications.Enabled && config.Notifications.AMQPURL == "" {
		return fmt.Errorf("notifications enabled but amqp_url is not set")
	}

	return nil
}
