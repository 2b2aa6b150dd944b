package graph

import (
	"testing"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *Graph {
	t.Helper()

	g, err := Build("run-1", "s3://recordings/abc", nil)
	require.NoError(t, err)

	return g
}

func TestBuildStaticNodes(t *testing.T) {
	g := buildGraph(t)

	assert.Len(t, g.Nodes, 12)
	assert.Empty(t, g.Node(NodeFetchRecording).Parents)
	assert.Equal(t, []string{NodeFetchRecording}, g.Node(NodeFetchParticipants).Parents)
	assert.Equal(t, []string{NodeMixdown}, g.Node(NodeWaveform).Parents)
	assert.Equal(t,
		[]string{NodeMixdown, NodeWaveform, NodeGenerateTitle, NodeGenerateSummary},
		g.Node(NodeFinalize).Parents)
	assert.Equal(t,
		[]string{NodeFinalize, NodeNotifyChat, NodeNotifyWebhook},
		g.Node(NodeCleanup).Parents)

	// Topological construction: every parent precedes its child.
	seen := make(map[string]bool)
	for _, node := range g.Nodes {
		for _, parent := range node.Parents {
			assert.True(t, seen[parent], "parent %s of %s must precede it", parent, node.ID)
		}

		seen[node.ID] = true
	}
}

func TestBuildJoinPolicies(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, models.JoinLenient, g.Node(NodeMixdown).JoinPolicy)
	assert.Equal(t, models.JoinLenient, g.Node(NodeMergeTranscripts).JoinPolicy)
	assert.Equal(t, models.JoinLenient, g.Node(NodeCleanup).JoinPolicy)
	assert.Equal(t, models.JoinStrict, g.Node(NodeFinalize).JoinPolicy)

	assert.True(t, g.Node(NodeNotifyChat).BestEffort)
	assert.True(t, g.Node(NodeNotifyWebhook).BestEffort)
	assert.False(t, g.Node(NodeFinalize).BestEffort)
}

func TestFanOutTwoTracks(t *testing.T) {
	g := buildGraph(t)

	expansion, err := FanOut(g, []models.Participant{
		{TrackID: "t1", TrackRef: "s3://tracks/1", Language: "en"},
		{TrackID: "t2", TrackRef: "s3://tracks/2", Language: "en"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, expansion.Cardinality)
	assert.Len(t, expansion.Added, 4)

	require.NoError(t, expansion.Apply(g))

	assert.Equal(t, []string{"pad_track:1", "pad_track:2"}, g.Node(NodeMixdown).Parents)
	assert.Equal(t, []string{"transcribe_track:1", "transcribe_track:2"}, g.Node(NodeMergeTranscripts).Parents)
	assert.Equal(t, []string{"pad_track:1"}, g.Node("transcribe_track:1").Parents)

	// Fan-in dependency count equals the fan-out cardinality.
	assert.Len(t, g.Node(NodeMergeTranscripts).Parents, expansion.Cardinality)
}

func TestFanOutZeroTracks(t *testing.T) {
	g := buildGraph(t)

	expansion, err := FanOut(g, nil)
	require.NoError(t, err)
	require.NoError(t, expansion.Apply(g))

	assert.Equal(t, 0, expansion.Cardinality)
	assert.Empty(t, expansion.Added)
	// The fan-in nodes keep fetch_participants, so they become eligible as
	// soon as discovery completes and merge produces an empty result.
	assert.Equal(t, []string{NodeFetchParticipants}, g.Node(NodeMergeTranscripts).Parents)
}

func TestFanOutTwice(t *testing.T) {
	g := buildGraph(t)

	expansion, err := FanOut(g, []models.Participant{{TrackID: "t1", TrackRef: "ref"}})
	require.NoError(t, err)
	require.NoError(t, expansion.Apply(g))

	_, err = FanOut(g, []models.Participant{{TrackID: "t2", TrackRef: "ref"}})
	assert.Error(t, err)
}

func TestChildren(t *testing.T) {
	g := buildGraph(t)

	assert.ElementsMatch(t,
		[]string{NodeDetectTopics, NodeGenerateSummary},
		g.Children(NodeMergeTranscripts))
}

func TestFromNodesRejectsUnknownParent(t *testing.T) {
	_, err := FromNodes("run-1", []*models.TaskNode{
		{ID: "waveform", Parents: []string{"mixdown"}},
	})
	assert.Error(t, err)
}
