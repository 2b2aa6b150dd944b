package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/engine/flow"
	"github.com/cadenza-io/cadenza/pkg/engine/pool"
	"github.com/cadenza-io/cadenza/pkg/eventbus"
	"github.com/cadenza-io/cadenza/pkg/events"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/registry"
	"github.com/cadenza-io/cadenza/pkg/retention"
	"github.com/cadenza-io/cadenza/pkg/shadow"
	"github.com/cadenza-io/cadenza/pkg/triggers/queue"
)

// WorkerManager runs the engines headless: it resumes interrupted runs on
// boot and accepts new ones from the event bus and the redis queue.
type WorkerManager struct {
	id              string
	logger          *slog.Logger
	persistence     persistence.Persistence
	registry        *registry.Registry
	eventBus        eventbus.EventBus
	engines         map[models.Provider]engine.Engine
	defaultProvider models.Provider

	poolEngine *pool.Engine
	flowEngine *flow.Engine
	trigger    *queue.Trigger
	sweeper    *retention.Sweeper
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	reg *registry.Registry,
	defaultProvider models.Provider,
	cfg engine.Config,
	trigger *queue.Trigger,
	sweeper *retention.Sweeper,
) *WorkerManager {
	poolEngine := pool.NewEngine(store, reg, cfg)
	flowEngine := flow.NewEngine(store, reg, cfg)
	shadowEngine := shadow.NewCoordinator(poolEngine, flowEngine, logger)

	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "cadenza-worker", "worker_id", id),
		persistence: store,
		registry:    reg,
		eventBus:    eventBus,
		engines: map[models.Provider]engine.Engine{
			models.ProviderPool:   poolEngine,
			models.ProviderFlow:   flowEngine,
			models.ProviderShadow: shadowEngine,
		},
		defaultProvider: defaultProvider,
		poolEngine:      poolEngine,
		flowEngine:      flowEngine,
		trigger:         trigger,
		sweeper:         sweeper,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	if err := w.poolEngine.Start(ctx); err != nil {
		return err
	}

	if err := w.flowEngine.Start(ctx); err != nil {
		return err
	}

	// Pick interrupted runs back up before accepting new work.
	if err := w.poolEngine.Resume(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to resume pool runs", "error", err)
	}

	if err := w.flowEngine.Resume(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to resume flow runs", "error", err)
	}

	w.eventBus.Handle(events.RunTriggeredEvent, w.handleRunTriggered)

	if err := w.eventBus.Subscribe(ctx, events.TriggersTopic); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.trigger != nil {
		if err := w.trigger.Start(ctx, w.handleQueueMessage); err != nil {
			return err
		}
	}

	if w.sweeper != nil {
		if err := w.sweeper.Start(ctx); err != nil {
			return err
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return w.shutdown(ctx)
}

func (w *WorkerManager) shutdown(ctx context.Context) error {
	if w.trigger != nil {
		if err := w.trigger.Stop(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop queue trigger", "error", err)
		}
	}

	if w.sweeper != nil {
		if err := w.sweeper.Stop(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop retention sweeper", "error", err)
		}
	}

	if err := w.flowEngine.Shutdown(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to shut down flow engine", "error", err)
	}

	if err := w.poolEngine.Shutdown(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to shut down pool engine", "error", err)
	}

	return nil
}

func (w *WorkerManager) handleRunTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.RunTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunTriggered")

		return nil
	}

	return w.startRun(ctx, triggered.InputRef, triggered.Provider, triggered.Metadata)
}

func (w *WorkerManager) handleQueueMessage(ctx context.Context, req queue.RunRequest) error {
	return w.startRun(ctx, req.InputRef, models.Provider(req.Provider), req.Metadata)
}

func (w *WorkerManager) startRun(ctx context.Context, inputRef string, provider models.Provider, metadata map[string]any) error {
	if provider == "" {
		provider = w.defaultProvider
	}

	eng, ok := w.engines[provider]
	if !ok {
		return fmt.Errorf("provider %q is not available", provider)
	}

	run := &models.Run{
		ID:       uuid.New().String(),
		InputRef: inputRef,
		Provider: provider,
		Metadata: metadata,
	}

	g, err := graph.Build(run.ID, run.InputRef, metadata)
	if err != nil {
		return err
	}

	if err := eng.Submit(ctx, run, g); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Run accepted",
		"run_id", run.ID,
		"provider", provider,
		"input_reference", inputRef,
	)

	return nil
}
