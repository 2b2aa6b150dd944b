// Package tasks defines the task unit contract: a task is a function of its
// declared input bindings and run-scoped context, returning a typed output
// or a retryable/fatal error. Bodies must be effectively idempotent under
// at-least-once re-execution.
package tasks

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// Handler executes one task type. Implementations must not reach outside
// their declared input bindings and must tolerate re-invocation: either
// check for pre-existing output before redoing work, or be cheap to redo.
type Handler interface {
	Type() models.TaskType
	Execute(ctx context.Context, input Input) (map[string]any, error)
}

// Reporter receives intermediate progress from long-running task bodies.
type Reporter interface {
	Progress(percent float64)
}

// Input carries everything a task may touch: the resolved bindings and the
// run-scoped identifiers for logging and idempotency keys.
type Input struct {
	RunID  string
	NodeID string

	// Params holds the node's declared input bindings merged with the
	// outputs of its completed parents, keyed by parent node id.
	Params map[string]any

	// Parents holds the raw outputs of completed parents. Lenient joins see
	// only the parents that completed.
	Parents map[string]map[string]any

	Reporter Reporter
}

// Param returns a string binding, or "" when absent.
func (in Input) Param(key string) string {
	value, _ := in.Params[key].(string)

	return value
}

// ParentOutput returns one parent's output map, or nil.
func (in Input) ParentOutput(nodeID string) map[string]any {
	return in.Parents[nodeID]
}

// NopReporter discards progress updates.
type NopReporter struct{}

func (NopReporter) Progress(float64) {}
