package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "unify-worker",
		EnableShellCompletion: true,
		Usage:                 "Run workflows for inbound events and schedules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   cmd.EventBusKafka,
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("unify-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Unify Worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "unify-worker", logger)
			if err != nil {
				return err
			}

			if eventBus == nil {
				return errNoEventBus
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			rt, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeOptions{
				ServiceName:    "unify-worker",
				ConfigFile:     command.String("config"),
				DatabaseURL:    command.String("database-url"),
				CredentialsKey: command.String("credentials-key"),
				RedisURL:       command.String("redis-url"),
				Tracing:        command.Bool("otel"),
				ActionTimeout:  command.Duration("action-timeout"),
				DedupWindow:    command.Duration("dedup-window"),
				Publisher:      eventBus,
			})
			if err != nil {
				return err
			}

			defer func() {
				err := rt.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			worker := NewWorkerManager(workerID, rt, eventBus, logger)

			return worker.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
