package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/cadenza-io/cadenza/pkg/cmd"
	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/log"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/otelhelper"
	"github.com/cadenza-io/cadenza/pkg/progress"
	"github.com/cadenza-io/cadenza/pkg/retention"
	"github.com/cadenza-io/cadenza/pkg/triggers/queue"
)

func main() {
	command := &cli.Command{
		Name:                  "cadenza-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute media pipeline runs headless",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or sqlite://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "default-provider",
				Usage:   "Engine used when a trigger does not name one (pool, flow, shadow)",
				Value:   "pool",
				Sources: cli.EnvVars("DEFAULT_PROVIDER"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent task executions per engine",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Scheduling pass cadence",
				Value:   250 * time.Millisecond,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:     "recordings-url",
				Usage:    "Base URL of the recordings service",
				Required: true,
				Sources:  cli.EnvVars("RECORDINGS_URL"),
			},
			&cli.StringFlag{
				Name:     "audio-url",
				Usage:    "Base URL of the audio processing service",
				Required: true,
				Sources:  cli.EnvVars("AUDIO_URL"),
			},
			&cli.StringFlag{
				Name:     "speech-url",
				Usage:    "Base URL of the speech-to-text service",
				Required: true,
				Sources:  cli.EnvVars("SPEECH_URL"),
			},
			&cli.StringFlag{
				Name:     "llm-url",
				Usage:    "Base URL of the language model service",
				Required: true,
				Sources:  cli.EnvVars("LLM_URL"),
			},
			&cli.StringFlag{
				Name:     "store-root",
				Usage:    "Root directory of the media object store",
				Required: true,
				Sources:  cli.EnvVars("STORE_ROOT"),
			},
			&cli.StringFlag{
				Name:    "chat-endpoint",
				Usage:   "Chat notification endpoint (optional)",
				Sources: cli.EnvVars("CHAT_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "webhook-endpoint",
				Usage:   "Completion webhook endpoint (optional)",
				Sources: cli.EnvVars("WEBHOOK_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "trigger-queue",
				Usage:   "Redis list to consume run triggers from (disabled if empty)",
				Sources: cli.EnvVars("TRIGGER_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the trigger queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the trigger queue",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "redis-db",
				Usage:   "Redis database for the trigger queue",
				Value:   "0",
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.StringFlag{
				Name:    "retention-schedule",
				Usage:   "Cron expression for the retention sweep",
				Value:   retention.DefaultSchedule,
				Sources: cli.EnvVars("RETENTION_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "retention-window",
				Usage:   "Age after which terminal runs are archived",
				Value:   retention.DefaultWindow,
				Sources: cli.EnvVars("RETENTION_WINDOW"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cadenza-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Cadenza Worker")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "cadenza-worker"); err != nil {
					logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)
				}
			}

			store, err := cmd.NewPersistence(command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			reg, err := cmd.NewRegistry(logger, cmd.ServiceConfig{
				RecordingsURL:   command.String("recordings-url"),
				AudioURL:        command.String("audio-url"),
				SpeechURL:       command.String("speech-url"),
				LLMURL:          command.String("llm-url"),
				StoreRoot:       command.String("store-root"),
				ChatEndpoint:    command.String("chat-endpoint"),
				WebhookEndpoint: command.String("webhook-endpoint"),
			})
			if err != nil {
				return err
			}

			var trigger *queue.Trigger
			if queueName := command.String("trigger-queue"); queueName != "" {
				trigger, err = queue.NewTrigger(ctx, map[string]any{
					"queue": queueName,
					"connection": map[string]any{
						"addr":     command.String("redis-addr"),
						"password": command.String("redis-password"),
						"db":       command.String("redis-db"),
					},
				}, logger)
				if err != nil {
					return err
				}
			}

			sweeper, err := retention.NewSweeper(
				store,
				command.String("retention-schedule"),
				command.Duration("retention-window"),
				logger,
			)
			if err != nil {
				return err
			}

			publisher := progress.NewPublisher(logger, eventBus)

			worker := NewWorkerManager(
				workerID,
				store,
				eventBus,
				logger,
				reg,
				models.Provider(command.String("default-provider")),
				engine.Config{
					Workers:      int(command.Int("workers")),
					PollInterval: command.Duration("poll-interval"),
					Logger:       logger,
					Publisher:    publisher,
				},
				trigger,
				sweeper,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
