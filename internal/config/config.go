package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/transferledger/internal/store/mysql"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"environment"`
	LogLevel string `yaml:"log_level"`

	Store  StoreConfig  `yaml:"store"`
	MySQL  mysql.Config `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Ledger LedgerConfig `yaml:"ledger"`
	CORS   CORSConfig   `yaml:"cors"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
	// WALPath makes the memory store durable when set.
	WALPath string `yaml:"wal_path"`
}

type RedisConfig struct {
	// Addr enables the shared idempotency store; empty keeps keys in process.
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// CORSConfig controls which browser origins may call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LedgerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
	RetryBase   time.Duration `yaml:"retry_base"`
}

// Load reads CONFIG_FILE (optional YAML), then applies environment overrides
// and defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store.DSN, "DB_SOURCE")
	setString(&c.Port, "SERVER_PORT")
	setString(&c.Env, "ENVIRONMENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.WALPath, "WAL_PATH")
	setString(&c.MySQL.Host, "MYSQL_HOST")
	setString(&c.MySQL.User, "MYSQL_USER")
	setString(&c.MySQL.Password, "MYSQL_PASSWORD")
	setString(&c.MySQL.DBName, "MYSQL_DATABASE")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setList(&c.CORS.AllowedOrigins, "ACCESS_CONTROL_ALLOW_ORIGIN")

	if err := setInt(&c.MySQL.Port, "MYSQL_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.Ledger.MaxAttempts, "LEDGER_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := setDuration(&c.Ledger.TxTimeout, "LEDGER_TX_TIMEOUT"); err != nil {
		return err
	}
	return setDuration(&c.Ledger.RetryBase, "LEDGER_RETRY_BASE")
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverPostgres
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Redis.IdempotencyTTL == 0 {
		c.Redis.IdempotencyTTL = 24 * time.Hour
	}
	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = 5
	}
	if c.Ledger.TxTimeout == 0 {
		c.Ledger.TxTimeout = 5 * time.Second
	}
	if c.Ledger.RetryBase == 0 {
		c.Ledger.RetryBase = 10 * time.Millisecond
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return fmt.Errorf("mysql host and database are required for the mysql driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger max_attempts must be at least 1, got %d", c.Ledger.MaxAttempts)
	}
	if c.Ledger.TxTimeout <= 0 {
		return fmt.Errorf("ledger tx_timeout must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList reads a comma-separated value.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
