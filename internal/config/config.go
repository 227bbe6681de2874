package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/imaddar/pair-match/internal/domain"
)

const EnvPrefix = "PAIRMATCH"

const (
	KeyHTTPAddr           = "http_addr"
	KeyDBDriver           = "db_driver"
	KeyDBURL              = "db_url"
	KeyDBMaxOpenConns     = "db_max_open_conns"
	KeyDBMaxIdleConns     = "db_max_idle_conns"
	KeyDBConnMaxLifetime  = "db_conn_max_lifetime_sec"
	KeyAuthBearerToken    = "auth_bearer_token"
	KeyMismatchDelayMS    = "mismatch_delay_ms"
	KeyAgentEndpoint      = "agent_endpoint"
	KeyAgentTimeoutMS     = "agent_timeout_ms"
	KeyLogLevel           = "log_level"
	KeyLogFormat          = "log_format"
	DefaultHTTPAddr       = ":8080"
	DefaultAgentTimeoutMS = 2_000
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPAddr string

	DBDriver          string
	DBURL             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	AuthBearerToken string
	MismatchDelayMS uint64
	AgentEndpoint   string
	AgentTimeout    time.Duration
	LogLevel        string
	LogFormat       string
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, DefaultHTTPAddr)
	v.SetDefault(KeyDBDriver, DriverMemory)
	v.SetDefault(KeyDBURL, "")
	v.SetDefault(KeyDBMaxOpenConns, 10)
	v.SetDefault(KeyDBMaxIdleConns, 5)
	v.SetDefault(KeyDBConnMaxLifetime, 300)
	v.SetDefault(KeyAuthBearerToken, "")
	v.SetDefault(KeyMismatchDelayMS, domain.DefaultMismatchDelayMS)
	v.SetDefault(KeyAgentEndpoint, "")
	v.SetDefault(KeyAgentTimeoutMS, DefaultAgentTimeoutMS)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// Load reads .env when present, then resolves every key from flags bound on
// v, PAIRMATCH_* environment variables and defaults, in that order.
func Load(v *viper.Viper) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:          strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		DBDriver:          strings.ToLower(strings.TrimSpace(v.GetString(KeyDBDriver))),
		DBURL:             strings.TrimSpace(v.GetString(KeyDBURL)),
		DBMaxOpenConns:    v.GetInt(KeyDBMaxOpenConns),
		DBMaxIdleConns:    v.GetInt(KeyDBMaxIdleConns),
		DBConnMaxLifetime: time.Duration(v.GetInt(KeyDBConnMaxLifetime)) * time.Second,
		AuthBearerToken:   strings.TrimSpace(v.GetString(KeyAuthBearerToken)),
		MismatchDelayMS:   v.GetUint64(KeyMismatchDelayMS),
		AgentEndpoint:     strings.TrimSpace(v.GetString(KeyAgentEndpoint)),
		AgentTimeout:      time.Duration(v.GetInt(KeyAgentTimeoutMS)) * time.Millisecond,
		LogLevel:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		LogFormat:         strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DBURL == "" {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, c.DBDriver, KeyDBURL)
		}
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, KeyDBDriver, c.DBDriver)
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyDBMaxOpenConns)
	}
	if c.DBMaxIdleConns <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyDBMaxIdleConns)
	}
	if c.DBConnMaxLifetime <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyDBConnMaxLifetime)
	}
	if c.MismatchDelayMS == 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyMismatchDelayMS)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyAgentTimeoutMS)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: %s must be text or json", ErrInvalidConfig, KeyLogFormat)
	}
	return nil
}

func (c Config) SessionConfig() domain.SessionConfig {
	return domain.SessionConfig{MismatchDelayMS: c.MismatchDelayMS}
}

// NewLogger builds the process logger. The config must already be valid.
func NewLogger(c Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, KeyLogLevel, raw)
	}
}
