// Package pool implements the process-pool engine: a fixed set of worker
// goroutines polling persistence for eligible nodes and claiming them with
// compare-and-set transitions. Dispatch is polling, concurrency is the
// worker pool; the claim CAS makes double execution impossible even with
// several pool processes on the same store.
package pool

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

const EngineName = "pool"

type job struct {
	runID  string
	nodeID string
}

type Engine struct {
	core   *engine.Core
	cfg    engine.Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}

	jobs     chan job
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	inFlight sync.Map
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
		core:   engine.NewCore(EngineName, store, reg, cfg),
		cfg:    cfg,
		logger: cfg.Logger.With("module", "engine", "engine", EngineName),
		active: make(map[string]struct{}),
		jobs:   make(chan job, cfg.Workers*2),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func (e *Engine) Name() string { return EngineName }

// Start launches the poll loop and the worker pool. It returns immediately;
// Shutdown stops everything.
func (e *Engine) Start(ctx context.Context) error {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)

		go e.worker(ctx)
	}

	e.wg.Add(1)

	go e.pollLoop(ctx)

	e.logger.InfoContext(ctx, "Pool engine started",
		"workers", e.cfg.Workers, "poll_interval", e.cfg.PollInterval)

	return nil
}

// Shutdown stops scheduling and waits for in-flight attempts to finish.
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

	e.track(run.ID)
	e.nudge()

	return nil
}

func (e *Engine) Status(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	return e.core.Snapshot(ctx, runID)
}

func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if err := e.core.Cancel(ctx, runID); err != nil {
		return err
	}

	e.nudge()

	return nil
}

// Resume picks up every non-terminal persisted run: nodes left running by
// a crash are re-queued, then normal polling re-derives eligibility.
func (e *Engine) Resume(ctx context.Context) error {
	runIDs, err := e.core.ActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}

	for _, runID := range runIDs {
		if err := e.core.RequeueStale(ctx, runID); err != nil {
			return fmt.Errorf("requeue run %s: %w", runID, err)
		}

		e.track(runID)
	}

	if len(runIDs) > 0 {
		e.logger.InfoContext(ctx, "Resumed runs", "count", len(runIDs))
	}

	e.nudge()

	return nil
}

func (e *Engine) track(runID string) {
	e.mu.Lock()
	e.active[runID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) activeRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.active))
	for runID := range e.active {
		out = append(out, runID)
	}

	return out
}

func (e *Engine) retire(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// nudge triggers an immediate scheduling pass without waiting for the next
// tick.
func (e *Engine) nudge() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		e.schedulePass(ctx)
	}
}

func (e *Engine) schedulePass(ctx context.Context) {
	for _, runID := range e.activeRuns() {
		ready, terminal, err := e.core.Advance(ctx, runID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Scheduling pass failed", "run_id", runID, "error", err)

			continue
		}

		if terminal {
			e.retire(runID)

			continue
		}

		for _, node := range ready {
			e.dispatch(runID, node.ID)
		}
	}
}

// dispatch hands a claimable node to the pool. A node already queued for a
// worker is not queued twice; a full job buffer is fine, the next pass
// picks the node up again.
func (e *Engine) dispatch(runID, nodeID string) {
	key := runID + "/" + nodeID
	if _, loaded := e.inFlight.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	select {
	case e.jobs <- job{runID: runID, nodeID: nodeID}:
	default:
		e.inFlight.Delete(key)
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			if err := e.core.RunTask(ctx, j.runID, j.nodeID); err != nil {
				e.logger.ErrorContext(ctx, "Task execution failed",
					"run_id", j.runID, "node_id", j.nodeID, "error", err)
			}

			e.inFlight.Delete(j.runID + "/" + j.nodeID)
			e.nudge()
		}
	}
}
