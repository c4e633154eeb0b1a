package env

import (
	"context"
	"fmt"
	"os"

	"github.com/agentuity/go-sessions/logger"
	"github.com/agentuity/go-sessions/telemetry"
	"github.com/spf13/cobra"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if val, err := cmd.Flags().GetString(flagName); err == nil && val != "" {
		return val
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel returns the level from the --log-level flag or the SESSIONS_LOG_LEVEL environment variable
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"), logger.LevelInfo)
}

// NewLogger returns a logger for the command. The --log-format flag selects
// between "console" (default) and "json".
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	if FlagOrEnv(cmd, "log-format", "SESSIONS_LOG_FORMAT", "console") == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// NewTelemetry returns a telemetry context, logger, shutdown function. The cobra flags it expects are:
//
// --no-telemetry (boolean): if set, telemetry will be disabled
//
// --otlp-url (string): the url of the otlp server
//
// --otlp-token (string): the bearer token for the otlp server
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (context.Context, logger.Logger, func(), error) {
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return ctx, NewLogger(cmd), func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "SESSIONS_OTLP_URL", "")
	if otlpURL == "" {
		return nil, nil, nil, fmt.Errorf("otlp-url or SESSIONS_OTLP_URL are required and --no-telemetry was not set")
	}
	otlpToken := FlagOrEnv(cmd, "otlp-token", "SESSIONS_OTLP_TOKEN", "")

	telemetryCtx, log, shutdown, err := telemetry.New(ctx, serviceName, otlpURL, otlpToken, NewLogger(cmd))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating telemetry: %w", err)
	}
	return telemetryCtx, log, shutdown, nil
}
