package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"

	LockerLocal = "local"
	LockerRedis = "redis"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Locker    LockerConfig    `yaml:"locker"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	MySQLDSN        string        `yaml:"mysql_dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type LockerConfig struct {
	Backend      string        `yaml:"backend"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisPool    int           `yaml:"redis_pool_size"`
	TTL          time.Duration `yaml:"ttl"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type LedgerConfig struct {
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver:          StorageMemory,
			MySQLDSN:        "root:root@tcp(localhost:3306)/ledger?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Locker: LockerConfig{
			Backend:      LockerLocal,
			RedisAddr:    "localhost:6379",
			RedisPool:    100,
			TTL:          10 * time.Second,
			RetryBackoff: 10 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			ApplyTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Mode: "dev",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stock-ledger",
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (skipped when path
// is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.HTTPAddr = envString("LEDGER_HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = envString("LEDGER_GRPC_ADDR", cfg.Server.GRPCAddr)
	cfg.Server.ShutdownTimeout = envDuration("LEDGER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Storage.Driver = strings.ToLower(envString("LEDGER_STORAGE", cfg.Storage.Driver))
	cfg.Storage.MySQLDSN = envString("MYSQL_DSN", cfg.Storage.MySQLDSN)
	cfg.Storage.MaxOpenConns = envInt("LEDGER_MYSQL_MAX_OPEN_CONNS", cfg.Storage.MaxOpenConns)
	cfg.Storage.MaxIdleConns = envInt("LEDGER_MYSQL_MAX_IDLE_CONNS", cfg.Storage.MaxIdleConns)
	cfg.Storage.Migrate = envBool("LEDGER_MIGRATE", cfg.Storage.Migrate)

	cfg.Locker.Backend = strings.ToLower(envString("LEDGER_LOCKER", cfg.Locker.Backend))
	cfg.Locker.RedisAddr = envString("REDIS_ADDR", cfg.Locker.RedisAddr)
	cfg.Locker.TTL = envDuration("LEDGER_LOCK_TTL", cfg.Locker.TTL)

	cfg.Ledger.ApplyTimeout = envDuration("LEDGER_APPLY_TIMEOUT", cfg.Ledger.ApplyTimeout)

	cfg.Log.Mode = envString("LEDGER_LOG_MODE", cfg.Log.Mode)
	cfg.Telemetry.Tracing = envBool("LEDGER_TRACING", cfg.Telemetry.Tracing)
	cfg.Telemetry.Environment = envString("LEDGER_ENV", cfg.Telemetry.Environment)
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageMySQL:
		if c.Storage.MySQLDSN == "" {
			errs = append(errs, errors.New("storage.mysql_dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Locker.Backend {
	case LockerLocal:
	case LockerRedis:
		if c.Locker.RedisAddr == "" {
			errs = append(errs, errors.New("locker.redis_addr is required for the redis locker"))
		}
		if c.Locker.TTL <= 0 {
			errs = append(errs, errors.New("locker.ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown locker backend %q", c.Locker.Backend))
	}

	if c.Ledger.ApplyTimeout <= 0 {
		errs = append(errs, errors.New("ledger.apply_timeout must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
