package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTransitions(t *testing.T) {
	assert.True(t, RunStatusPending.CanTransition(RunStatusRunning))
	assert.True(t, RunStatusRunning.CanTransition(RunStatusCompleted))
	assert.True(t, RunStatusRunning.CanTransition(RunStatusFailed))
	assert.True(t, RunStatusRunning.CanTransition(RunStatusCancelled))

	// No transition out of a terminal state.
	assert.False(t, RunStatusCompleted.CanTransition(RunStatusRunning))
	assert.False(t, RunStatusFailed.CanTransition(RunStatusCompleted))
	assert.False(t, RunStatusCancelled.CanTransition(RunStatusRunning))

	// Monotonic: no going backwards.
	assert.False(t, RunStatusRunning.CanTransition(RunStatusPending))
}

func TestNodeStatusTransitions(t *testing.T) {
	assert.True(t, NodeStatusQueued.CanTransition(NodeStatusRunning))
	assert.True(t, NodeStatusQueued.CanTransition(NodeStatusSkipped))
	assert.True(t, NodeStatusRunning.CanTransition(NodeStatusCompleted))
	assert.True(t, NodeStatusRunning.CanTransition(NodeStatusRetrying))
	assert.True(t, NodeStatusRunning.CanTransition(NodeStatusFailed))
	assert.True(t, NodeStatusRetrying.CanTransition(NodeStatusQueued))

	// Completed and skipped nodes are immutable.
	assert.False(t, NodeStatusCompleted.CanTransition(NodeStatusRunning))
	assert.False(t, NodeStatusSkipped.CanTransition(NodeStatusQueued))
	assert.False(t, NodeStatusFailed.CanTransition(NodeStatusRunning))

	// Running may not jump straight back to queued.
	assert.False(t, NodeStatusRunning.CanTransition(NodeStatusQueued))
}

func TestNodeStatusTerminal(t *testing.T) {
	assert.True(t, NodeStatusCompleted.Terminal())
	assert.True(t, NodeStatusFailed.Terminal())
	assert.True(t, NodeStatusSkipped.Terminal())
	assert.False(t, NodeStatusQueued.Terminal())
	assert.False(t, NodeStatusRunning.Terminal())
	assert.False(t, NodeStatusRetrying.Terminal())
}

func TestDefaultRetryPolicies(t *testing.T) {
	policies := DefaultRetryPolicies()

	assert.Equal(t, 3, policies[TaskTypeMixdown].MaxAttempts)
	assert.Equal(t, 5, policies[TaskTypeTranscribeTrack].MaxAttempts)
	assert.Equal(t, 5, policies[TaskTypeNotifyWebhook].MaxAttempts)
	assert.Greater(t, policies[TaskTypeTranscribeTrack].Timeout, policies[TaskTypeMixdown].Timeout)
}

func TestPolicyForFallback(t *testing.T) {
	policy := PolicyFor(map[TaskType]RetryPolicy{}, TaskTypeWaveform)
	assert.Equal(t, defaultMaxAttempts, policy.MaxAttempts)
	assert.Equal(t, defaultMultiplier, policy.Multiplier)
}

func TestRunSnapshotLookups(t *testing.T) {
	snapshot := &RunSnapshot{
		Run: &Run{ID: "r1"},
		Nodes: []*TaskNode{
			{ID: "pad_track:1", Type: TaskTypePadTrack},
			{ID: "pad_track:2", Type: TaskTypePadTrack},
			{ID: "mixdown", Type: TaskTypeMixdown},
		},
	}

	assert.Len(t, snapshot.NodesByType(TaskTypePadTrack), 2)
	assert.NotNil(t, snapshot.Node("mixdown"))
	assert.Nil(t, snapshot.Node("waveform"))
}
