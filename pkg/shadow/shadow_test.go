package shadow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	name      string
	mu        sync.Mutex
	submitted map[string]*models.Run
	graphs    map[string]*graph.Graph
	snapshots map[string]*models.RunSnapshot
	cancelled []string
	submitErr error
	panicOn   bool
}

func newFakeEngine(name string) *fakeEngine {
	return &fakeEngine{
		name:      name,
		submitted: make(map[string]*models.Run),
		graphs:    make(map[string]*graph.Graph),
		snapshots: make(map[string]*models.RunSnapshot),
	}
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Submit(_ context.Context, run *models.Run, g *graph.Graph) error {
	if f.panicOn {
		panic("shadow engine exploded")
	}

	if f.submitErr != nil {
		return f.submitErr
	}

	f.mu.Lock()
	f.submitted[run.ID] = run
	f.graphs[run.ID] = g
	f.mu.Unlock()

	return nil
}

func (f *fakeEngine) Status(_ context.Context, runID string) (*models.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, ok := f.snapshots[runID]
	if !ok {
		return nil, errors.New("run not found")
	}

	return snapshot, nil
}

func (f *fakeEngine) Cancel(_ context.Context, runID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, runID)
	f.mu.Unlock()

	return nil
}

func (f *fakeEngine) Resume(context.Context) error { return nil }

func (f *fakeEngine) setSnapshot(runID string, snapshot *models.RunSnapshot) {
	f.mu.Lock()
	f.snapshots[runID] = snapshot
	f.mu.Unlock()
}

func (f *fakeEngine) submittedRun(runID string) *models.Run {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.submitted[runID]
}

func (f *fakeEngine) submittedGraph(runID string) *graph.Graph {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.graphs[runID]
}

func terminalSnapshot(runID string, status models.RunStatus, nodes ...*models.TaskNode) *models.RunSnapshot {
	return &models.RunSnapshot{
		Run:   &models.Run{ID: runID, Status: status},
		Nodes: nodes,
	}
}

func buildRun(t *testing.T, id string) (*models.Run, *graph.Graph) {
	t.Helper()

	run := &models.Run{
		ID:       id,
		InputRef: "s3://recordings/source",
		Provider: models.ProviderShadow,
		Metadata: map[string]any{"language_hint": "en"},
	}

	g, err := graph.Build(run.ID, run.InputRef, run.Metadata)
	require.NoError(t, err)

	return run, g
}

func TestSubmitMirrorsToShadow(t *testing.T) {
	primary := newFakeEngine("pool")
	secondary := newFakeEngine("flow")

	primary.setSnapshot("r1", terminalSnapshot("r1", models.RunStatusCompleted))
	secondary.setSnapshot("r1.shadow", terminalSnapshot("r1.shadow", models.RunStatusCompleted))

	coordinator := NewCoordinator(primary, secondary, slog.Default())
	coordinator.watchInterval = time.Millisecond

	run, g := buildRun(t, "r1")
	require.NoError(t, coordinator.Submit(t.Context(), run, g))

	coordinator.Wait()

	assert.NotNil(t, primary.submittedRun("r1"))

	mirror := secondary.submittedRun("r1.shadow")
	require.NotNil(t, mirror, "shadow receives a mirrored submission")
	assert.Equal(t, run.InputRef, mirror.InputRef)
	assert.Equal(t, run.Metadata, mirror.Metadata)

	// The mirrored graph carries the same input bindings as the primary's,
	// metadata included, so both runs fetch with identical parameters.
	mirrorGraph := secondary.submittedGraph("r1.shadow")
	require.NotNil(t, mirrorGraph)
	assert.Equal(t,
		g.Node(graph.NodeFetchRecording).Input,
		mirrorGraph.Node(graph.NodeFetchRecording).Input)
}

func TestShadowSubmitFailureDoesNotAffectPrimary(t *testing.T) {
	primary := newFakeEngine("pool")
	secondary := newFakeEngine("flow")
	secondary.submitErr = errors.New("shadow store down")

	coordinator := NewCoordinator(primary, secondary, slog.Default())

	run, g := buildRun(t, "r1")
	require.NoError(t, coordinator.Submit(t.Context(), run, g))

	coordinator.Wait()

	assert.NotNil(t, primary.submittedRun("r1"))
}

func TestShadowPanicIsContained(t *testing.T) {
	primary := newFakeEngine("pool")
	secondary := newFakeEngine("flow")
	secondary.panicOn = true

	coordinator := NewCoordinator(primary, secondary, slog.Default())

	run, g := buildRun(t, "r1")
	require.NoError(t, coordinator.Submit(t.Context(), run, g))

	coordinator.Wait()

	assert.NotNil(t, primary.submittedRun("r1"))
}

func TestStatusAndCancelProxyPrimary(t *testing.T) {
	primary := newFakeEngine("pool")
	secondary := newFakeEngine("flow")

	primary.setSnapshot("r1", terminalSnapshot("r1", models.RunStatusRunning))

	coordinator := NewCoordinator(primary, secondary, slog.Default())

	snapshot, err := coordinator.Status(t.Context(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", snapshot.Run.ID)

	require.NoError(t, coordinator.Cancel(t.Context(), "r1"))
	assert.Equal(t, []string{"r1"}, primary.cancelled)
	assert.Equal(t, []string{"r1.shadow"}, secondary.cancelled)
}

func node(id string, status models.NodeStatus, output map[string]any) *models.TaskNode {
	return &models.TaskNode{ID: id, Type: models.TaskTypeMixdown, Status: status, Output: output}
}

func TestDifferFlagsDivergences(t *testing.T) {
	differ := NewDiffer()

	primary := terminalSnapshot("r1", models.RunStatusCompleted,
		node("mixdown", models.NodeStatusCompleted, map[string]any{"mix_key": "a"}),
		node("waveform", models.NodeStatusCompleted, map[string]any{"waveform_key": "w"}),
		node("finalize", models.NodeStatusCompleted, map[string]any{"episode_key": "e"}),
	)
	shadow := terminalSnapshot("r1.shadow", models.RunStatusFailed,
		node("mixdown", models.NodeStatusCompleted, map[string]any{"mix_key": "b"}),
		node("waveform", models.NodeStatusFailed, nil),
	)

	divergences := differ.Compare(primary, shadow)

	kinds := map[string][]string{}
	for _, d := range divergences {
		kinds[d.Kind] = append(kinds[d.Kind], d.NodeID)
	}

	assert.Len(t, kinds[KindRunStatus], 1)
	assert.Equal(t, []string{"mixdown"}, kinds[KindNodeOutput])
	assert.Equal(t, []string{"waveform"}, kinds[KindNodeStatus])
	assert.Equal(t, []string{"finalize"}, kinds[KindMissingNode])
}

func TestDifferAcceptsEquivalentRuns(t *testing.T) {
	differ := NewDiffer()

	// The shadow output came through a JSON round trip: ints become
	// float64 but the runs are still equivalent.
	primary := terminalSnapshot("r1", models.RunStatusCompleted,
		node("mixdown", models.NodeStatusCompleted, map[string]any{"track_count": 2}),
	)
	shadow := terminalSnapshot("r1.shadow", models.RunStatusCompleted,
		node("mixdown", models.NodeStatusCompleted, map[string]any{"track_count": float64(2)}),
	)

	assert.Empty(t, differ.Compare(primary, shadow))
}
