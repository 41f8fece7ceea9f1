// Package config loads runtime configuration from STOCKLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/warp/stockledger/store/mysql"
	"github.com/warp/stockledger/stock"
)

const envPrefix = "stockledger"

// Config holds runtime configuration for the server.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"stockledger.db"`

	MySQLHost     string `envconfig:"MYSQL_HOST" default:"127.0.0.1"`
	MySQLPort     int    `envconfig:"MYSQL_PORT" default:"3306"`
	MySQLUser     string `envconfig:"MYSQL_USER" default:"stockledger"`
	MySQLPassword string `envconfig:"MYSQL_PASSWORD"`
	MySQLName     string `envconfig:"MYSQL_NAME" default:"stockledger"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	Epsilon        string            `envconfig:"EPSILON" default:"0.001"`
	Classification map[string]string `envconfig:"CLASSIFICATION"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ScheduleItems    []string      `envconfig:"SCHEDULE_ITEMS"`
	ScheduleInterval time.Duration `envconfig:"SCHEDULE_INTERVAL" default:"1h"`

	RateLimit      int      `envconfig:"RATE_LIMIT" default:"120"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	Production     bool     `envconfig:"PRODUCTION" default:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "mysql", "memory":
	default:
		errs = append(errs, fmt.Errorf("db driver %q: want sqlite, mysql or memory", c.DBDriver))
	}
	if c.DBDriver == "sqlite" && strings.TrimSpace(c.SQLitePath) == "" {
		errs = append(errs, errors.New("sqlite path must be provided"))
	}
	if c.DBDriver == "mysql" && c.MySQLHost == "" {
		errs = append(errs, errors.New("mysql host must be provided"))
	}
	if _, err := c.EpsilonValue(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Classifier(); err != nil {
		errs = append(errs, err)
	}
	if len(c.ScheduleItems) > 0 && c.ScheduleInterval <= 0 {
		errs = append(errs, errors.New("schedule interval must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// EpsilonValue parses the balance tolerance.
func (c *Config) EpsilonValue() (decimal.Decimal, error) {
	eps, err := decimal.NewFromString(strings.TrimSpace(c.Epsilon))
	if err != nil {
		return decimal.Zero, fmt.Errorf("epsilon %q: %w", c.Epsilon, err)
	}
	if eps.IsNegative() {
		return decimal.Zero, fmt.Errorf("epsilon %q must not be negative", c.Epsilon)
	}
	return eps, nil
}

// Classifier returns the default classification table with the configured overrides.
func (c *Config) Classifier() (*stock.Classifier, error) {
	return stock.NewClassifier(c.Classification)
}

// MySQL returns the connection settings for store/mysql.
func (c *Config) MySQL() mysql.Config {
	return mysql.Config{
		Host:     c.MySQLHost,
		Port:     c.MySQLPort,
		User:     c.MySQLUser,
		Password: c.MySQLPassword,
		Database: c.MySQLName,
	}
}

// CacheEnabled reports whether a Redis address is configured.
func (c *Config) CacheEnabled() bool {
	return c != nil && c.RedisAddr != ""
}
