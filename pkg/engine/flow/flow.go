// Package flow implements the cooperative engine: one scheduler goroutine
// owns every state decision and streams node activations to short-lived
// executor goroutines as they become eligible. There is no polling claim
// race inside the process; completions flow back into the scheduler channel
// and immediately drive the next activations. The CAS claim is kept anyway,
// so a flow engine and a pool engine can share one store safely.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/registry"
)

const EngineName = "flow"

// activation is one streamed unit of dispatch: a claimable node observed by
// the scheduler.
type activation struct {
	runID  string
	nodeID string
}

// signal reports a finished execution back to the scheduler.
type signal struct {
	runID string
	key   string
}

type Engine struct {
	core   *engine.Core
	cfg    engine.Config
	logger *slog.Logger

	submitCh chan string
	doneCh   chan signal
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// sem bounds concurrently executing task bodies.
	sem chan struct{}
}

func NewEngine(store persistence.Persistence, reg *registry.Registry, cfg engine.Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}

	return &Engine{
		core:     engine.NewCore(EngineName, store, reg, cfg),
		cfg:      cfg,
		logger:   cfg.Logger.With("module", "engine", "engine", EngineName),
		submitCh: make(chan string, 16),
		doneCh:   make(chan signal, 64),
		stop:     make(chan struct{}),
		sem:      make(chan struct{}, cfg.Workers),
	}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)

	go e.scheduler(ctx)

	e.logger.InfoContext(ctx, "Flow engine started", "executors", e.cfg.Workers)

	return nil
}

func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Submit(ctx context.Context, run *models.Run, g *graph.Graph) error {
	if err := e.core.SubmitRun(ctx, run, g); err != nil {
		return err
	}

	e.enqueueRun(run.ID)

	return nil
}

func (e *Engine) Status(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	return e.core.Snapshot(ctx, runID)
}

func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if err := e.core.Cancel(ctx, runID); err != nil {
		return err
	}

	e.enqueueRun(runID)

	return nil
}

func (e *Engine) Resume(ctx context.Context) error {
	runIDs, err := e.core.ActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}

	for _, runID := range runIDs {
		if err := e.core.RequeueStale(ctx, runID); err != nil {
			return fmt.Errorf("requeue run %s: %w", runID, err)
		}

		e.enqueueRun(runID)
	}

	if len(runIDs) > 0 {
		e.logger.InfoContext(ctx, "Resumed runs", "count", len(runIDs))
	}

	return nil
}

func (e *Engine) enqueueRun(runID string) {
	select {
	case e.submitCh <- runID:
	case <-e.stop:
	}
}

// scheduler is the single goroutine owning all scheduling decisions. Runs
// enter through submitCh, executor completions come back through doneCh,
// and a ticker wakes it for due retries.
func (e *Engine) scheduler(ctx context.Context) {
	defer e.wg.Done()

	active := make(map[string]struct{})
	inFlight := make(map[string]struct{})

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	advance := func(runID string) {
		ready, terminal, err := e.core.Advance(ctx, runID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Scheduling pass failed", "run_id", runID, "error", err)

			return
		}

		if terminal {
			delete(active, runID)

			return
		}

		for _, node := range ready {
			key := runID + "/" + node.ID
			if _, dispatched := inFlight[key]; dispatched {
				continue
			}

			inFlight[key] = struct{}{}

			e.execute(ctx, activation{runID: runID, nodeID: node.ID}, key)
		}
	}

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case runID := <-e.submitCh:
			active[runID] = struct{}{}

			advance(runID)
		case sig := <-e.doneCh:
			delete(inFlight, sig.key)

			advance(sig.runID)
		case <-ticker.C:
			for runID := range active {
				advance(runID)
			}
		}
	}
}

// execute streams one activation to a short-lived executor goroutine. The
// semaphore bounds parallelism; the completion signal re-enters the
// scheduler no matter how the attempt ended.
func (e *Engine) execute(ctx context.Context, act activation, key string) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		e.sem <- struct{}{}
		defer func() { <-e.sem }()

		if err := e.core.RunTask(ctx, act.runID, act.nodeID); err != nil {
			e.logger.ErrorContext(ctx, "Task execution failed",
				"run_id", act.runID, "node_id", act.nodeID, "error", err)
		}

		select {
		case e.doneCh <- signal{runID: act.runID, key: key}:
		case <-e.stop:
		}
	}()
}
