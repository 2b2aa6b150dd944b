// Package persistencetest exercises the persistence contract shared by all
// backends: CAS transitions, atomic fan-out expansion, terminal immutability.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the full contract suite against a backend.
func Run(t *testing.T, open func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, open(t)) })
	t.Run("NodeTransitionCAS", func(t *testing.T) { testNodeTransitionCAS(t, open(t)) })
	t.Run("FanOutExpansion", func(t *testing.T) { testFanOutExpansion(t, open(t)) })
	t.Run("TerminalNodesImmutable", func(t *testing.T) { testTerminalImmutable(t, open(t)) })
	t.Run("ArchiveRequiresTerminal", func(t *testing.T) { testArchive(t, open(t)) })
}

func seedRun(t *testing.T, store persistence.Persistence, runID string) *graph.Graph {
	t.Helper()

	ctx := context.Background()
	run := &models.Run{
		ID:        runID,
		InputRef:  "s3://recordings/xyz",
		Provider:  models.ProviderPool,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Runs().Create(ctx, run))

	g, err := graph.Build(runID, run.InputRef, nil)
	require.NoError(t, err)
	require.NoError(t, store.Nodes().InsertGraph(ctx, runID, g.Nodes))

	return g
}

func testRunLifecycle(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	seedRun(t, store, "run-lifecycle")

	require.NoError(t, store.Runs().UpdateStatus(ctx, "run-lifecycle", models.RunStatusPending, models.RunStatusRunning))

	// Stale expected status must be rejected.
	err := store.Runs().UpdateStatus(ctx, "run-lifecycle", models.RunStatusPending, models.RunStatusRunning)
	require.Error(t, err)
	assert.True(t, persistence.IsConflict(err))

	require.NoError(t, store.Runs().SetResult(ctx, "run-lifecycle", map[string]any{"title": "Episode 12"}, ""))
	require.NoError(t, store.Runs().UpdateStatus(ctx, "run-lifecycle", models.RunStatusRunning, models.RunStatusCompleted))

	run, err := store.Runs().Get(ctx, "run-lifecycle")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "Episode 12", run.Result["title"])
	assert.NotNil(t, run.FinishedAt)

	// Terminal runs never transition again.
	err = store.Runs().UpdateStatus(ctx, "run-lifecycle", models.RunStatusCompleted, models.RunStatusRunning)
	require.Error(t, err)

	_, err = store.Runs().Get(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))
}

func testNodeTransitionCAS(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	seedRun(t, store, "run-cas")

	node, err := store.Nodes().Transition(ctx, "run-cas", graph.NodeFetchRecording,
		models.NodeStatusQueued, models.NodeStatusRunning,
		func(n *models.TaskNode) { n.Attempts++ })
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusRunning, node.Status)
	assert.Equal(t, 1, node.Attempts)
	assert.NotNil(t, node.StartedAt)

	// A second claim on the same node loses the race.
	_, err = store.Nodes().Transition(ctx, "run-cas", graph.NodeFetchRecording,
		models.NodeStatusQueued, models.NodeStatusRunning, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsConflict(err))

	node, err = store.Nodes().Transition(ctx, "run-cas", graph.NodeFetchRecording,
		models.NodeStatusRunning, models.NodeStatusCompleted,
		func(n *models.TaskNode) { n.Output = map[string]any{"recording_key": "rec/xyz.flac"} })
	require.NoError(t, err)
	assert.Equal(t, "rec/xyz.flac", node.Output["recording_key"])

	stored, err := store.Nodes().Get(ctx, "run-cas", graph.NodeFetchRecording)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func testFanOutExpansion(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	g := seedRun(t, store, "run-fanout")

	expansion, err := graph.FanOut(g, []models.Participant{
		{TrackID: "t1", TrackRef: "ref1"},
		{TrackID: "t2", TrackRef: "ref2"},
		{TrackID: "t3", TrackRef: "ref3"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Nodes().ExpandFanOut(ctx, expansion))

	nodes, err := store.Nodes().ListByRun(ctx, "run-fanout")
	require.NoError(t, err)
	assert.Len(t, nodes, 12+6)

	merge := findNode(nodes, graph.NodeMergeTranscripts)
	require.NotNil(t, merge)
	assert.Equal(t, []string{"transcribe_track:1", "transcribe_track:2", "transcribe_track:3"}, merge.Parents)

	mixdown := findNode(nodes, graph.NodeMixdown)
	require.NotNil(t, mixdown)
	assert.Len(t, mixdown.Parents, 3)

	// A second expansion must be rejected wholesale.
	err = store.Nodes().ExpandFanOut(ctx, expansion)
	assert.ErrorIs(t, err, persistence.ErrFanOutMaterialized)
}

func testTerminalImmutable(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	seedRun(t, store, "run-terminal")

	_, err := store.Nodes().Transition(ctx, "run-terminal", graph.NodeFetchRecording,
		models.NodeStatusQueued, models.NodeStatusRunning, nil)
	require.NoError(t, err)
	_, err = store.Nodes().Transition(ctx, "run-terminal", graph.NodeFetchRecording,
		models.NodeStatusRunning, models.NodeStatusCompleted, nil)
	require.NoError(t, err)

	_, err = store.Nodes().Transition(ctx, "run-terminal", graph.NodeFetchRecording,
		models.NodeStatusCompleted, models.NodeStatusRunning, nil)
	require.Error(t, err)
}

func testArchive(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	seedRun(t, store, "run-archive")

	err := store.Runs().Archive(ctx, "run-archive", time.Now().UTC())
	require.Error(t, err)

	require.NoError(t, store.Runs().UpdateStatus(ctx, "run-archive", models.RunStatusPending, models.RunStatusRunning))
	require.NoError(t, store.Runs().UpdateStatus(ctx, "run-archive", models.RunStatusRunning, models.RunStatusCancelled))
	require.NoError(t, store.Runs().Archive(ctx, "run-archive", time.Now().UTC()))

	run, err := store.Runs().Get(ctx, "run-archive")
	require.NoError(t, err)
	assert.NotNil(t, run.ArchivedAt)
}

func findNode(nodes []*models.TaskNode, id string) *models.TaskNode {
	for _, node := range nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
