// Package models defines the core domain models for pipeline run orchestration.
package models

import "time"

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Provider selects which execution engine drives a run.
type Provider string

const (
	ProviderPool   Provider = "pool"   // Multi-worker pool engine, polling dispatch
	ProviderFlow   Provider = "flow"   // Cooperative scheduler engine, streaming dispatch
	ProviderShadow Provider = "shadow" // Pool authoritative, flow shadowed for comparison
)

// Run represents one end-to-end execution of the pipeline for one input recording.
type Run struct {
	ID         string         `json:"id"`
	InputRef   string         `json:"input_reference" validate:"required"`
	Provider   Provider       `json:"provider"        validate:"required"`
	Status     RunStatus      `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// runTransitions encodes the monotonic run state machine: once terminal, no exit.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusRunning, RunStatusCancelled, RunStatusFailed},
	RunStatusRunning: {RunStatusCompleted, RunStatusFailed, RunStatusCancelled},
}

// CanTransition reports whether a run may move from one status to another.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// RunSnapshot is the externally queryable view of a run and its node table.
type RunSnapshot struct {
	Run   *Run        `json:"run"`
	Nodes []*TaskNode `json:"nodes"`
}

// Node returns the node with the given id, or nil.
func (s *RunSnapshot) Node(nodeID string) *TaskNode {
	for _, node := range s.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// NodesByType returns all nodes of one task type in insertion order.
func (s *RunSnapshot) NodesByType(taskType TaskType) []*TaskNode {
	var out []*TaskNode

	for _, node := range s.Nodes {
		if node.Type == taskType {
			out = append(out, node)
		}
	}

	return out
}
