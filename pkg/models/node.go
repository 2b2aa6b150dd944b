// Package models defines core task node models for graph execution.
package models

import "time"

// TaskType identifies one kind of task unit in the pipeline graph.
type TaskType string

const (
	TaskTypeFetchRecording    TaskType = "fetch_recording"
	TaskTypeFetchParticipants TaskType = "fetch_participants"
	TaskTypePadTrack          TaskType = "pad_track"
	TaskTypeMixdown           TaskType = "mixdown"
	TaskTypeWaveform          TaskType = "waveform"
	TaskTypeTranscribeTrack   TaskType = "transcribe_track"
	TaskTypeMergeTranscripts  TaskType = "merge_transcripts"
	TaskTypeDetectTopics      TaskType = "detect_topics"
	TaskTypeGenerateTitle     TaskType = "generate_title"
	TaskTypeGenerateSummary   TaskType = "generate_summary"
	TaskTypeFinalize          TaskType = "finalize"
	TaskTypeCleanup           TaskType = "cleanup"
	TaskTypeNotifyChat        TaskType = "notify_chat"
	TaskTypeNotifyWebhook     TaskType = "notify_webhook"
)

// NodeStatus defines the possible states of a task node.
type NodeStatus string

const (
	NodeStatusQueued    NodeStatus = "queued"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusRetrying  NodeStatus = "retrying"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the node status is final. Completed and skipped
// nodes are immutable; failed nodes have exhausted their retries.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusQueued:   {NodeStatusRunning, NodeStatusSkipped, NodeStatusFailed},
	NodeStatusRunning:  {NodeStatusCompleted, NodeStatusRetrying, NodeStatusFailed},
	NodeStatusRetrying: {NodeStatusQueued, NodeStatusSkipped, NodeStatusFailed},
}

// CanTransition reports whether a node may move from one status to another.
// Transitions out of terminal states are never allowed.
func (s NodeStatus) CanTransition(to NodeStatus) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// JoinPolicy controls when a node with multiple parents becomes eligible.
type JoinPolicy string

const (
	// JoinStrict requires every parent completed; any failed or skipped
	// parent cascades skipped to this node.
	JoinStrict JoinPolicy = "strict"
	// JoinLenient waits for every parent to reach a terminal state and runs
	// with the outputs of the parents that completed. The node fails only
	// when it had parents and none of them completed.
	JoinLenient JoinPolicy = "lenient"
)

// TaskNode represents one scheduled unit of work within a run's graph.
// Node ids are structural ("pad_track:2") so that resumed and shadowed runs
// of the same graph correlate node-for-node.
type TaskNode struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Type        TaskType       `json:"type"`
	Parents     []string       `json:"parents"`
	JoinPolicy  JoinPolicy     `json:"join_policy"`
	BestEffort  bool           `json:"best_effort,omitempty"` // Failure recorded but never fails the run
	Status      NodeStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// HasParent reports whether parentID is among the node's declared parents.
func (n *TaskNode) HasParent(parentID string) bool {
	for _, p := range n.Parents {
		if p == parentID {
			return true
		}
	}

	return false
}

// Participant describes one per-track entry discovered by fetch_participants.
// Each participant fans out into a pad_track -> transcribe_track chain.
type Participant struct {
	TrackID  string `json:"track_id"`
	Name     string `json:"name,omitempty"`
	TrackRef string `json:"track_reference"`
	Language string `json:"language,omitempty"`
}
