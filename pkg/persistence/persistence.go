// Package persistence provides the durable storage abstraction for runs and
// task nodes. Every state transition is recorded here before the engines
// consider it to have happened; after a crash the next eligible nodes are
// re-derived purely from this state.
package persistence

import (
	"context"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
)

type Persistence interface {
	Runs() RunRepository
	Nodes() NodeRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context) ([]*models.Run, error)

	// UpdateStatus applies a compare-and-set status transition; ErrConflict
	// when the current status differs from expected, ErrInvalidTransition
	// when the state machine forbids the move.
	UpdateStatus(ctx context.Context, id string, expected, next models.RunStatus) error

	// SetResult records the terminal payload or error of a run.
	SetResult(ctx context.Context, id string, result map[string]any, errMsg string) error

	// Archive stamps a terminal run for retention. Archived runs stay
	// readable until external cleanup removes them.
	Archive(ctx context.Context, id string, at time.Time) error
}

// NodeMutation adjusts a node's payload fields inside a transition. It runs
// while the store holds the node exclusively; it must not block.
type NodeMutation func(node *models.TaskNode)

type NodeRepository interface {
	// InsertGraph persists the full static node set of a run atomically.
	InsertGraph(ctx context.Context, runID string, nodes []*models.TaskNode) error

	// ExpandFanOut applies a fan-out expansion, added chains plus rewired
	// fan-in parent sets, as a single transaction, so cardinality is
	// observed consistently regardless of scheduling order.
	ExpandFanOut(ctx context.Context, expansion *graph.Expansion) error

	Get(ctx context.Context, runID, nodeID string) (*models.TaskNode, error)
	ListByRun(ctx context.Context, runID string) ([]*models.TaskNode, error)

	// Transition applies a compare-and-set status move and the supplied
	// mutation atomically, returning the stored node. Two workers racing on
	// the same node: exactly one wins, the other gets ErrConflict.
	Transition(ctx context.Context, runID, nodeID string, expected, next models.NodeStatus, mutate NodeMutation) (*models.TaskNode, error)
}
