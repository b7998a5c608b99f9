package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger     Logger     `mapstructure:"logger"`
	Database   Database   `mapstructure:"database"`
	Server     Server     `mapstructure:"server"`
	MarketData MarketData `mapstructure:"market_data"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
	Registry   Registry   `mapstructure:"registry"`
	Engine     Engine     `mapstructure:"engine"`
	Backtest   Backtest   `mapstructure:"backtest"`
	API        API        `mapstructure:"api"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty disables the rotating file sink
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Server holds the configuration for the HTTP API.
type Server struct {
	Port int `mapstructure:"port"`
}

// MarketData holds the configuration for the market data source.
type MarketData struct {
	BaseURL        string  `mapstructure:"base_url"`
	WSURL          string  `mapstructure:"ws_url"`
	Synthetic      bool    `mapstructure:"synthetic"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Scheduler holds the configuration for the tick scheduler.
// Mode is one of "off", "poll" or "stream".
type Scheduler struct {
	Mode         string   `mapstructure:"mode"`
	TickInterval int      `mapstructure:"tick_interval"`
	TickTimeout  int      `mapstructure:"tick_timeout"`
	Symbols      []string `mapstructure:"symbols"`
}

// Registry selects the active-bot registry backend ("memory" or "redis").
type Registry struct {
	Backend string `mapstructure:"backend"`
	Redis   Redis  `mapstructure:"redis"`
}

// Redis holds the connection settings for the redis registry.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// Engine holds the configuration for live evaluation.
type Engine struct {
	TickWorkers int `mapstructure:"tick_workers"`
}

// Backtest holds the configuration for the backtest simulator.
type Backtest struct {
	Workers    int `mapstructure:"workers"`
	MaxSamples int `mapstructure:"max_samples"`
}

// API holds paging limits for list endpoints.
type API struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)

	v.SetDefault("database.dsn", "rulebot.db")
	v.SetDefault("server.port", 8080)

	v.SetDefault("market_data.rate_limit", 20)      // requests per second
	v.SetDefault("market_data.rate_limit_burst", 5) // burst size

	v.SetDefault("scheduler.mode", "off")
	v.SetDefault("scheduler.tick_interval", 60)
	v.SetDefault("scheduler.tick_timeout", 10)

	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.redis.addr", "localhost:6379")
	v.SetDefault("registry.redis.key", "rulebot:active")

	v.SetDefault("engine.tick_workers", 8)
	v.SetDefault("backtest.workers", 4)
	v.SetDefault("backtest.max_samples", 100000)

	v.SetDefault("api.default_limit", 50)
	v.SetDefault("api.max_limit", 500)
}
