package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Config struct {
	Port   string       `yaml:"port"`
	Store  StoreConfig  `yaml:"store"`
	Ledger LedgerConfig `yaml:"ledger"`
	Cache  CacheConfig  `yaml:"cache"`
	Events EventsConfig `yaml:"events"`
	Log    LogConfig    `yaml:"log"`
	HTTP   HTTPConfig   `yaml:"http"`
}

type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	WALPath         string        `yaml:"wal_path"`
}

type LedgerConfig struct {
	TxTimeout        time.Duration `yaml:"tx_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	DefaultPageLimit int           `yaml:"default_page_limit"`
	MaxPageLimit     int           `yaml:"max_page_limit"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type HTTPConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func Default() Config {
	return Config{
		Port: "8080",
		Store: StoreConfig{
			Driver:          DriverMySQL,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			TxTimeout:        5 * time.Second,
			MaxRetries:       3,
			RetryBackoff:     50 * time.Millisecond,
			DefaultPageLimit: 10,
			MaxPageLimit:     100,
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		Events: EventsConfig{
			SubjectPrefix: "ledger.transactions",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and finally the environment (.env included).
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using process environment")
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.DSN, "DB_URL")
	setString(&cfg.Store.WALPath, "WAL_PATH")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Events.NATSURL, "NATS_URL")
	setString(&cfg.Events.SubjectPrefix, "NATS_SUBJECT_PREFIX")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	return errors.Join(
		setInt(&cfg.Store.MaxOpenConns, "DB_MAX_OPEN_CONNS"),
		setInt(&cfg.Store.MaxIdleConns, "DB_MAX_IDLE_CONNS"),
		setDuration(&cfg.Store.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME"),
		setDuration(&cfg.Ledger.TxTimeout, "TX_TIMEOUT"),
		setInt(&cfg.Ledger.MaxRetries, "TX_MAX_RETRIES"),
		setDuration(&cfg.Ledger.RetryBackoff, "TX_RETRY_BACKOFF"),
		setInt(&cfg.Ledger.DefaultPageLimit, "PAGE_DEFAULT_LIMIT"),
		setInt(&cfg.Ledger.MaxPageLimit, "PAGE_MAX_LIMIT"),
		setInt(&cfg.Cache.RedisDB, "REDIS_DB"),
		setDuration(&cfg.Cache.TTL, "CACHE_TTL"),
		setBool(&cfg.Log.Pretty, "LOG_PRETTY"),
		setFloat(&cfg.HTTP.RateLimitRPS, "RATE_LIMIT_RPS"),
		setInt(&cfg.HTTP.RateLimitBurst, "RATE_LIMIT_BURST"),
	)
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.DSN == "" {
			return errors.New("DB_URL is required for the mysql store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Ledger.TxTimeout <= 0 {
		return errors.New("tx timeout must be positive")
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.Ledger.DefaultPageLimit <= 0 || c.Ledger.MaxPageLimit <= 0 {
		return errors.New("page limits must be positive")
	}
	if c.Ledger.DefaultPageLimit > c.Ledger.MaxPageLimit {
		return errors.New("default page limit exceeds max page limit")
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func setFloat(dst *float64, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
