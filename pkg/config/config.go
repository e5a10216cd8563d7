package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	// Required by the server binaries; the agent runs without a database.
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"omitempty,url|uri"`

	// Redis backs the snapshot task queue. Empty disables the queue and
	// snapshots are taken inline by the API.
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST" validate:"gte=1"`
	StreamHeartbeat time.Duration `mapstructure:"STREAM_HEARTBEAT" validate:"gte=0"`

	AutosaveDebounce time.Duration `mapstructure:"AUTOSAVE_DEBOUNCE" validate:"gt=0"`
	HistoryCapacity  int           `mapstructure:"HISTORY_CAPACITY" validate:"gte=1,lte=1000"`
	SnapshotCap      int           `mapstructure:"SNAPSHOT_CAP" validate:"gte=1,lte=1000"`
	SnapshotInterval time.Duration `mapstructure:"SNAPSHOT_INTERVAL" validate:"gt=0"`
	LocalStorePath   string        `mapstructure:"LOCAL_STORE_PATH" validate:"required"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())

	keys = []string{
		"APP_ENV",
		"HTTP_ADDR",
		"SHUTDOWN_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"ASYNQ_CONCURRENCY",
		"RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST",
		"STREAM_HEARTBEAT",
		"AUTOSAVE_DEBOUNCE",
		"HISTORY_CAPACITY",
		"SNAPSHOT_CAP",
		"SNAPSHOT_INTERVAL",
		"LOCAL_STORE_PATH",
		"GOMAXPROCS",
	}
)

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("STREAM_HEARTBEAT", "15s")
	v.SetDefault("AUTOSAVE_DEBOUNCE", "2s")
	v.SetDefault("HISTORY_CAPACITY", 50)
	v.SetDefault("SNAPSHOT_CAP", 50)
	v.SetDefault("SNAPSHOT_INTERVAL", "5m")
	v.SetDefault("LOCAL_STORE_PATH", "./data/fallback.db")
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Durations may arrive as bare strings from the environment.
	for key, dst := range map[string]*time.Duration{
		"SHUTDOWN_TIMEOUT":  &c.ShutdownTimeout,
		"AUTOSAVE_DEBOUNCE": &c.AutosaveDebounce,
		"SNAPSHOT_INTERVAL": &c.SnapshotInterval,
		"STREAM_HEARTBEAT":  &c.StreamHeartbeat,
	} {
		if s := v.GetString(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
