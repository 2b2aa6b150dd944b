// Package events defines event types and structures for run lifecycle and
// task node progress notifications.
package events

import (
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const TriggersTopic = "cadenza.runs.triggers" // Inbound run triggers for workers
const ProgressTopic = "cadenza.runs.progress" // Per-run ordered progress stream

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunTriggeredEvent EventType = "run.triggered"
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	// Task node progress events.
	NodeStartedEvent   EventType = "node.started"
	NodeProgressEvent  EventType = "node.progress"
	NodeCompletedEvent EventType = "node.completed"
	NodeRetryingEvent  EventType = "node.retrying"
	NodeFailedEvent    EventType = "node.failed"
	NodeSkippedEvent   EventType = "node.skipped"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Sequence  uint64         `json:"sequence,omitempty"` // Per-run total order, assigned by the publisher
	Engine    string         `json:"engine,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RunTriggered asks a worker to build and submit a run.
type RunTriggered struct {
	BaseEvent

	InputRef string          `json:"input_reference"`
	Provider models.Provider `json:"provider"`
}

func (e RunTriggered) GetType() EventType { return RunTriggeredEvent }

type RunStarted struct {
	BaseEvent

	InputRef  string `json:"input_reference"`
	NodeCount int    `json:"node_count"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunCompleted struct {
	BaseEvent

	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	Error      string `json:"error"`
	FailedNode string `json:"failed_node,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

// Task node progress events. Per-node emission order is
// started -> progress* -> (completed | failed | skipped), with retrying
// in between attempts.

type NodeStarted struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	TaskType models.TaskType `json:"task_type"`
	Attempt  int             `json:"attempt"`
}

func (e NodeStarted) GetType() EventType { return NodeStartedEvent }

type NodeProgress struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	TaskType models.TaskType `json:"task_type"`
	Percent  float64         `json:"percent"` // 0-100
	// Fan-out groups report child completion counts instead of a percentage.
	ChildrenDone  int `json:"children_done,omitempty"`
	ChildrenTotal int `json:"children_total,omitempty"`
}

func (e NodeProgress) GetType() EventType { return NodeProgressEvent }

type NodeCompleted struct {
	BaseEvent

	NodeID     string          `json:"node_id"`
	TaskType   models.TaskType `json:"task_type"`
	Output     map[string]any  `json:"output,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType { return NodeCompletedEvent }

type NodeRetrying struct {
	BaseEvent

	NodeID      string          `json:"node_id"`
	TaskType    models.TaskType `json:"task_type"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error"`
	NextRetryAt time.Time       `json:"next_retry_at"`
}

func (e NodeRetrying) GetType() EventType { return NodeRetryingEvent }

type NodeFailed struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	TaskType models.TaskType `json:"task_type"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	Fatal    bool            `json:"fatal"` // Fatal errors skip the retry loop entirely
}

func (e NodeFailed) GetType() EventType { return NodeFailedEvent }

type NodeSkipped struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	TaskType models.TaskType `json:"task_type"`
	Ancestor string          `json:"ancestor"` // The failed ancestor that cascaded here
}

func (e NodeSkipped) GetType() EventType { return NodeSkippedEvent }

// SetSequence stamps the per-run sequence number. The progress publisher
// calls this under its per-run ordering lock; events must therefore be
// handed over as pointers.
func (b *BaseEvent) SetSequence(seq uint64) { b.Sequence = seq }

// SetEngine records which engine emitted the event. Shadow comparisons use
// it to tell the primary and shadow streams apart.
func (b *BaseEvent) SetEngine(engine string) { b.Engine = engine }

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Metadata:  make(map[string]any),
	}
}
