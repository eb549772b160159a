package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server       Server       `mapstructure:"server"`
	Database     Database     `mapstructure:"database"`
	Storage      Storage      `mapstructure:"storage"`
	Kafka        Kafka        `mapstructure:"kafka"`
	Provider     Provider     `mapstructure:"provider"`
	Orchestrator Orchestrator `mapstructure:"orchestrator"`
	Retry        Retry        `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"`     // HTTP port to listen on
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // request read deadline
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // response write deadline
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`  // keep-alive idle deadline
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Endpoint   string        `mapstructure:"endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	BucketName string        `mapstructure:"bucket_name"`
	UseSSL     bool          `mapstructure:"use_ssl"`
	URLTTL     time.Duration `mapstructure:"url_ttl"` // signed URL lifetime
}

// Kafka holds configuration for the lifecycle event topic.
type Kafka struct {
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Provider holds configuration for the AI transformation provider.
type Provider struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Orchestrator holds the scheduling and admission deployment parameters.
type Orchestrator struct {
	Workers         int           `mapstructure:"workers"`          // worker pool size
	MaxAttempts     int           `mapstructure:"max_attempts"`     // provider call attempts per job
	CallTimeout     time.Duration `mapstructure:"call_timeout"`     // hard timeout per provider call
	PollInterval    time.Duration `mapstructure:"poll_interval"`    // worker queue poll interval
	QuotaLimit      int           `mapstructure:"quota_limit"`      // reservations per user per period
	QuotaPeriod     time.Duration `mapstructure:"quota_period"`     // quota window length
	ProgressCeiling int           `mapstructure:"progress_ceiling"` // max in-flight progress percentage
	ETAWindow       int           `mapstructure:"eta_window"`       // duration samples kept per quality tier
	WatermarkText   string        `mapstructure:"watermark_text"`   // drawn on public copies
}

// Retry defines retry policy configuration for infra calls.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// mustBindEnv binds critical environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "STORAGE_ACCESS_KEY",
		"storage.secret_key":   "STORAGE_SECRET_KEY",
		"provider.api_key":     "PROVIDER_API_KEY",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	cfg.applyDefaults()

	return &cfg
}

// applyDefaults fills the orchestrator deployment parameters left unset.
func (c *Config) applyDefaults() {
	if c.Orchestrator.Workers <= 0 {
		c.Orchestrator.Workers = 4
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		c.Orchestrator.MaxAttempts = 3
	}
	if c.Orchestrator.CallTimeout <= 0 {
		c.Orchestrator.CallTimeout = 120 * time.Second
	}
	if c.Orchestrator.PollInterval <= 0 {
		c.Orchestrator.PollInterval = 100 * time.Millisecond
	}
	if c.Orchestrator.QuotaLimit <= 0 {
		c.Orchestrator.QuotaLimit = 10
	}
	if c.Orchestrator.QuotaPeriod <= 0 {
		c.Orchestrator.QuotaPeriod = 24 * time.Hour
	}
	if c.Orchestrator.ProgressCeiling <= 0 {
		c.Orchestrator.ProgressCeiling = 90
	}
	if c.Orchestrator.ETAWindow <= 0 {
		c.Orchestrator.ETAWindow = 20
	}
	if c.Storage.URLTTL <= 0 {
		c.Storage.URLTTL = time.Hour
	}
}
