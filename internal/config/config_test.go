package config

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	require.Equal(t, DriverMemory, cfg.DBDriver)
	require.Equal(t, 10, cfg.DBMaxOpenConns)
	require.Equal(t, 5, cfg.DBMaxIdleConns)
	require.Equal(t, 300*time.Second, cfg.DBConnMaxLifetime)
	require.Equal(t, uint64(1000), cfg.MismatchDelayMS)
	require.Equal(t, 2*time.Second, cfg.AgentTimeout)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
	require.Empty(t, cfg.AuthBearerToken)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAIRMATCH_DB_DRIVER", "SQLite")
	t.Setenv("PAIRMATCH_DB_URL", "file:ledger.db")
	t.Setenv("PAIRMATCH_MISMATCH_DELAY_MS", "250")
	t.Setenv("PAIRMATCH_AUTH_BEARER_TOKEN", " secret ")
	t.Setenv("PAIRMATCH_LOG_FORMAT", "json")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.DBDriver)
	require.Equal(t, "file:ledger.db", cfg.DBURL)
	require.Equal(t, uint64(250), cfg.MismatchDelayMS)
	require.Equal(t, "secret", cfg.AuthBearerToken)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, uint64(250), cfg.SessionConfig().MismatchDelayMS)
}

func TestLoadExplicitValueOverridesEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAIRMATCH_HTTP_ADDR", ":9000")

	v := viper.New()
	v.Set(KeyHTTPAddr, ":7000")
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTPAddr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown driver", key: "PAIRMATCH_DB_DRIVER", val: "mysql"},
		{name: "postgres without url", key: "PAIRMATCH_DB_DRIVER", val: "postgres"},
		{name: "zero delay", key: "PAIRMATCH_MISMATCH_DELAY_MS", val: "0"},
		{name: "zero pool", key: "PAIRMATCH_DB_MAX_OPEN_CONNS", val: "0"},
		{name: "bad level", key: "PAIRMATCH_LOG_LEVEL", val: "loud"},
		{name: "bad format", key: "PAIRMATCH_LOG_FORMAT", val: "xml"},
		{name: "zero agent timeout", key: "PAIRMATCH_AGENT_TIMEOUT_MS", val: "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tc.key, tc.val)

			_, err := Load(viper.New())
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger.Warn("deck dealt", "session_id", "s1")
	require.Contains(t, buf.String(), `"session_id":"s1"`)
	require.Contains(t, buf.String(), `"msg":"deck dealt"`)
}
