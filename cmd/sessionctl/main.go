package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-sessions/api"
	"github.com/agentuity/go-sessions/env"
	"github.com/agentuity/go-sessions/eventing"
	"github.com/agentuity/go-sessions/logger"
	"github.com/agentuity/go-sessions/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const serviceName = "sessionctl"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Open, close and watch notebook engine sessions",
	Version:       api.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("url", "", "The notebook server url (SESSIONS_URL)")
	flags.String("token", "", "The bearer token for the notebook server (SESSIONS_TOKEN)")
	flags.String("log-level", "", "The log level: trace, debug, info, warn or error (SESSIONS_LOG_LEVEL)")
	flags.String("log-format", "console", "The log format: console or json")
	flags.String("redis-url", "", "Publish and watch session events through this redis server (SESSIONS_REDIS_URL)")
	flags.String("subject", session.DefaultEventSubject, "The subject session events are published on")
	flags.Bool("no-telemetry", true, "Disable telemetry export")
	flags.String("otlp-url", "", "The url of the otlp server (SESSIONS_OTLP_URL)")
	flags.String("otlp-token", "", "The bearer token for the otlp server (SESSIONS_OTLP_TOKEN)")
	flags.StringP("format", "f", "table", "The output format: table, json or yaml")
}

// runtime is everything a command needs to talk to the notebook server.
type runtime struct {
	ctx     context.Context
	logger  logger.Logger
	manager *session.Manager
	events  eventing.Client
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newEventClient(ctx context.Context, cmd *cobra.Command, log logger.Logger) (eventing.Client, func(), error) {
	redisURL := env.FlagOrEnv(cmd, "redis-url", "SESSIONS_REDIS_URL", "")
	if redisURL == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	client, err := eventing.NewRedisClient(ctx, log, rdb)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		rdb.Close()
	}, nil
}

// setup builds the runtime. The notebook url is only required when needsServer is set.
func setup(cmd *cobra.Command, needsServer bool) (*runtime, error) {
	ctx, log, shutdown, err := env.NewTelemetry(cmd.Context(), cmd, serviceName)
	if err != nil {
		return nil, err
	}
	rt := &runtime{ctx: ctx, logger: log, closers: []func(){shutdown}}

	events, closeEvents, err := newEventClient(ctx, cmd, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeEvents)
	rt.events = events

	baseURL := env.FlagOrEnv(cmd, "url", "SESSIONS_URL", "")
	if baseURL == "" {
		if needsServer {
			rt.Close()
			return nil, fmt.Errorf("--url or SESSIONS_URL is required")
		}
		return rt, nil
	}
	token := env.FlagOrEnv(cmd, "token", "SESSIONS_TOKEN", "")
	transport := api.NewSessionTransport(api.New(log, baseURL, token))

	opts := []session.Option{}
	if events != nil {
		subject, _ := cmd.Flags().GetString("subject")
		opts = append(opts, session.WithEventClient(events), session.WithEventSubject(subject))
	}
	rt.manager = session.New(log, transport, opts...)
	return rt, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
