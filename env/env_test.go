package env

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentuity/go-sessions/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")
	cmd.Flags().String("log-format", "", "Log format")
	cmd.Flags().Bool("no-telemetry", false, "Disable telemetry")
	cmd.Flags().String("otlp-url", "", "OTLP url")
	cmd.Flags().String("otlp-token", "", "OTLP token")
	return cmd
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("url", "", "Notebook url")

	cmd.Flags().Set("url", "http://flag")
	assert.Equal(t, "http://flag", FlagOrEnv(cmd, "url", "SESSIONS_URL", "default"))

	cmd.Flags().Set("url", "")
	t.Setenv("SESSIONS_URL", "http://env")
	assert.Equal(t, "http://env", FlagOrEnv(cmd, "url", "SESSIONS_URL", "default"))

	t.Setenv("SESSIONS_URL", "")
	assert.Equal(t, "default", FlagOrEnv(cmd, "url", "SESSIONS_URL", "default"))
	assert.Equal(t, "default", FlagOrEnv(cmd, "missing", "SESSIONS_MISSING", "default"))
}

func TestLogLevel(t *testing.T) {
	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"flag wins over env", "error", "trace", logger.LevelError},
		{"warn level via env", "", "WARN", logger.LevelWarn},
		{"default level", "", "", logger.LevelInfo},
		{"unknown level", "chatty", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newCommand()
			cmd.Flags().Set("log-level", tc.flagValue)
			t.Setenv(logger.EnvLogLevel, tc.envValue)
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestNewLogger(t *testing.T) {
	cmd := newCommand()
	cmd.Flags().Set("log-format", "json")
	log := NewLogger(cmd)
	assert.True(t, log.IsLevelEnabled(logger.LevelInfo))
	assert.False(t, log.IsLevelEnabled(logger.LevelDebug))
}

func TestNewTelemetry(t *testing.T) {
	cmd := newCommand()
	cmd.Flags().Set("no-telemetry", "true")
	ctx, log, shutdown, err := NewTelemetry(context.Background(), cmd, "sessionctl")
	require.NoError(t, err)
	assert.NotNil(t, ctx)
	assert.NotNil(t, log)
	shutdown()

	cmd = newCommand()
	t.Setenv("SESSIONS_OTLP_URL", "")
	_, _, _, err = NewTelemetry(context.Background(), cmd, "sessionctl")
	assert.ErrorContains(t, err, "otlp-url")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	cmd.Flags().Set("otlp-url", server.URL)
	_, log, shutdown, err = NewTelemetry(context.Background(), cmd, "sessionctl")
	require.NoError(t, err)
	assert.NotNil(t, log)
	shutdown()
}
