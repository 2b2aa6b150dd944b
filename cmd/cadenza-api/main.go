package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/cadenza-io/cadenza/pkg/cmd"
	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/log"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/otelhelper"
	"github.com/cadenza-io/cadenza/pkg/progress"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "cadenza-api",
		Usage:                 "Trigger and inspect media pipeline runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or sqlite://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "default-provider",
				Usage:   "Engine used when a run does not name one (pool, flow, shadow)",
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

			logger.InfoContext(ctx, "Initializing Cadenza API")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "cadenza-api"); err != nil {
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

			publisher := progress.NewPublisher(logger, eventBus)

			api := NewAPI(
				logger,
				store,
				reg,
				publisher,
				models.Provider(command.String("default-provider")),
				engine.Config{
					Workers:      int(command.Int("workers")),
					PollInterval: command.Duration("poll-interval"),
					Logger:       logger,
					Publisher:    publisher,
				},
			)

			err = api.Start(ctx, int(command.Int("port")))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
