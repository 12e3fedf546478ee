package main

import (
	"context"
	"os"

	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/log"
	"github.com/unifyos/unify/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "unify-api",
		Usage:                 "Manage workflows and receive provider webhooks",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Action:                run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Execution store URL (postgres://... or memory://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "credentials-key",
			Usage:   "Hex encoded AES-256 key of the app token store",
			Sources: cli.EnvVars("CREDENTIALS_KEY"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel, none). none runs webhooks in process",
			Value:   cmd.EventBusNone,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the shared dedup window; in memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to the YAML config file",
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "Timeout of a single action",
			Sources: cli.EnvVars("ACTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "dedup-window",
			Usage:   "How long a provider event id is remembered",
			Sources: cli.EnvVars("DEDUP_WINDOW"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json, pretty)",
			Value:   log.FormatText,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Unify API")

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "unify-api", logger)
	if err != nil {
		return err
	}

	if bus != nil {
		defer func() {
			err := bus.Close()
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()
	}

	opts := cmd.RuntimeOptions{
		ServiceName:    "unify-api",
		ConfigFile:     command.String("config"),
		DatabaseURL:    command.String("database-url"),
		CredentialsKey: command.String("credentials-key"),
		RedisURL:       command.String("redis-url"),
		Tracing:        command.Bool("otel"),
		ActionTimeout:  command.Duration("action-timeout"),
		DedupWindow:    command.Duration("dedup-window"),
	}

	if bus != nil {
		opts.Publisher = bus
	}

	rt, err := cmd.NewRuntime(ctx, logger, opts)
	if err != nil {
		return err
	}

	defer func() {
		err := rt.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	api := NewAPI(logger, rt, dispatcher(bus, rt))

	return api.Start(command.Int("port"))
}

// dispatcher hands webhooks to the worker when a bus is configured.
func dispatcher(bus eventbus.EventBus, rt *cmd.Runtime) web.Dispatcher {
	if bus == nil {
		return web.NewDirectDispatcher(rt.Engine)
	}

	return web.NewBusDispatcher(bus)
}
