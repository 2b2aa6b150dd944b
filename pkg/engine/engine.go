// Package engine defines the execution engine contract and the scheduler
// core shared by its implementations. An engine owns the node state machine
// of its runs: it derives eligible nodes from persisted state, claims them
// with compare-and-set transitions and records every move durably before
// acting on it, so a crash at any point resumes without losing the run.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/progress"
)

// Engine is the uniform adapter surface. Implementations differ in worker
// concurrency model and dispatch transport but present identical run and
// node semantics.
type Engine interface {
	Name() string

	// Submit persists the run and its static graph and begins scheduling.
	Submit(ctx context.Context, run *models.Run, g *graph.Graph) error

	// Status returns the durable run snapshot, including the node table.
	Status(ctx context.Context, runID string) (*models.RunSnapshot, error)

	// Cancel requests a run-level cancel: running attempts finish their
	// current execution, nothing new is scheduled.
	Cancel(ctx context.Context, runID string) error

	// Resume re-derives scheduling state for all non-terminal persisted
	// runs after a restart. Nodes left running by a crash are re-queued.
	Resume(ctx context.Context) error
}

// Config tunes an engine instance.
type Config struct {
	// Workers bounds concurrent task execution.
	Workers int

	// PollInterval is the scheduling pass cadence for polling engines and
	// the retry-wakeup fallback for streaming ones.
	PollInterval time.Duration

	// RetryPolicies overrides per task type; missing entries fall back to
	// models.DefaultRetryPolicies.
	RetryPolicies map[models.TaskType]models.RetryPolicy

	Logger    *slog.Logger
	Publisher *progress.Publisher
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}

	if c.RetryPolicies == nil {
		c.RetryPolicies = models.DefaultRetryPolicies()
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}
