// Package shadow runs every submission against two engines at once: the
// primary owns the externally visible outcome, the shadow re-executes the
// same graph for comparison. Shadow failures are contained; they can never
// alter or delay the primary run. Once both runs are terminal, their node
// tables are compared pairwise by structural node id and divergences are
// logged.
package shadow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
)

const EngineName = "shadow"

// shadowRunID derives the shadow's run id. The suffix keeps the two runs
// apart in shared persistence while the structural node ids still match.
func shadowRunID(runID string) string { return runID + ".shadow" }

type Coordinator struct {
	primary engine.Engine
	shadow  engine.Engine
	differ  *Differ
	logger  *slog.Logger

	// watchInterval/watchTimeout bound the comparison poll loop.
	watchInterval time.Duration
	watchTimeout  time.Duration

	wg sync.WaitGroup
}

func NewCoordinator(primary, shadow engine.Engine, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		primary:       primary,
		shadow:        shadow,
		differ:        NewDiffer(),
		logger:        logger.With("module", "shadow"),
		watchInterval: 500 * time.Millisecond,
		watchTimeout:  30 * time.Minute,
	}
}

func (c *Coordinator) Name() string { return EngineName }

// Submit sends the run to the primary and mirrors it to the shadow. The
// primary result is authoritative: a shadow submit error is logged and
// swallowed, and the shadow runs on a context detached from the caller's.
func (c *Coordinator) Submit(ctx context.Context, run *models.Run, g *graph.Graph) error {
	if err := c.primary.Submit(ctx, run, g); err != nil {
		return err
	}

	mirrorCtx := context.WithoutCancel(ctx)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer c.contain(run.ID, "shadow submit")

		c.mirror(mirrorCtx, run)
	}()

	return nil
}

func (c *Coordinator) mirror(ctx context.Context, run *models.Run) {
	mirror := &models.Run{
		ID:       shadowRunID(run.ID),
		InputRef: run.InputRef,
		Provider: run.Provider,
		Metadata: run.Metadata,
	}

	g, err := graph.Build(mirror.ID, mirror.InputRef, run.Metadata)
	if err != nil {
		c.logger.Error("Shadow graph build failed", "run_id", run.ID, "error", err)

		return
	}

	if err := c.shadow.Submit(ctx, mirror, g); err != nil {
		c.logger.Error("Shadow submit failed", "run_id", run.ID, "error", err)

		return
	}

	c.watch(ctx, run.ID)
}

// watch waits for both runs to reach a terminal state, then compares them.
func (c *Coordinator) watch(ctx context.Context, runID string) {
	deadline := time.Now().Add(c.watchTimeout)
	ticker := time.NewTicker(c.watchInterval)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			c.logger.Warn("Shadow comparison timed out", "run_id", runID)

			return
		}

		primarySnap, err := c.primary.Status(ctx, runID)
		if err != nil || !primarySnap.Run.Status.Terminal() {
			continue
		}

		shadowSnap, err := c.shadow.Status(ctx, shadowRunID(runID))
		if err != nil || !shadowSnap.Run.Status.Terminal() {
			continue
		}

		c.report(runID, c.differ.Compare(primarySnap, shadowSnap))

		return
	}
}

func (c *Coordinator) report(runID string, divergences []Divergence) {
	if len(divergences) == 0 {
		c.logger.Info("Shadow run matched primary", "run_id", runID)

		return
	}

	for _, d := range divergences {
		c.logger.Warn("shadow.divergence",
			"run_id", runID, "node_id", d.NodeID, "kind", d.Kind, "detail", d.Detail)
	}
}

// contain turns a shadow-side panic into a log entry.
func (c *Coordinator) contain(runID, operation string) {
	if r := recover(); r != nil {
		c.logger.Error("Shadow panic contained",
			"run_id", runID, "operation", operation, "panic", fmt.Sprint(r))
	}
}

func (c *Coordinator) Status(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	return c.primary.Status(ctx, runID)
}

// Cancel cancels the primary and mirrors the cancel to the shadow on a
// best-effort basis.
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	err := c.primary.Cancel(ctx, runID)

	func() {
		defer c.contain(runID, "shadow cancel")

		if shadowErr := c.shadow.Cancel(context.WithoutCancel(ctx), shadowRunID(runID)); shadowErr != nil {
			c.logger.Warn("Shadow cancel failed", "run_id", runID, "error", shadowErr)
		}
	}()

	return err
}

func (c *Coordinator) Resume(ctx context.Context) error {
	err := c.primary.Resume(ctx)

	func() {
		defer c.contain("", "shadow resume")

		if shadowErr := c.shadow.Resume(context.WithoutCancel(ctx)); shadowErr != nil {
			c.logger.Warn("Shadow resume failed", "error", shadowErr)
		}
	}()

	return err
}

// Wait blocks until all in-flight shadow mirrors and comparisons finish.
func (c *Coordinator) Wait() { c.wg.Wait() }
