// Package graph builds the dependency graph for one pipeline run: the static
// node set with fixed edges, plus the dynamic per-participant fan-out that is
// materialized once fetch_participants has completed.
package graph

import (
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// Static node ids. Fan-out node ids are structural ("pad_track:3") so a
// resumed or shadowed run of the same input correlates node-for-node.
const (
	NodeFetchRecording    = "fetch_recording"
	NodeFetchParticipants = "fetch_participants"
	NodeMixdown           = "mixdown"
	NodeWaveform          = "waveform"
	NodeMergeTranscripts  = "merge_transcripts"
	NodeDetectTopics      = "detect_topics"
	NodeGenerateTitle     = "generate_title"
	NodeGenerateSummary   = "generate_summary"
	NodeFinalize          = "finalize"
	NodeCleanup           = "cleanup"
	NodeNotifyChat        = "notify_chat"
	NodeNotifyWebhook     = "notify_webhook"
)

// Graph is an append-only node table keyed by node id with explicit parent
// sets. Nodes keeps insertion order; the order is a valid topological order
// because a node is only ever added after all of its parents.
type Graph struct {
	RunID string
	Nodes []*models.TaskNode

	byID map[string]*models.TaskNode
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *models.TaskNode {
	return g.byID[id]
}

// Children returns the ids of every node that declares nodeID as a parent.
func (g *Graph) Children(nodeID string) []string {
	var out []string

	for _, node := range g.Nodes {
		if node.HasParent(nodeID) {
			out = append(out, node.ID)
		}
	}

	return out
}

func (g *Graph) add(node *models.TaskNode) error {
	if _, exists := g.byID[node.ID]; exists {
		return fmt.Errorf("duplicate node id %q", node.ID)
	}

	for _, parent := range node.Parents {
		if _, exists := g.byID[parent]; !exists {
			return fmt.Errorf("node %q references unknown parent %q", node.ID, parent)
		}
	}

	g.Nodes = append(g.Nodes, node)
	g.byID[node.ID] = node

	return nil
}

// FromNodes reassembles a graph from a persisted node table, preserving the
// stored order. Used by engines when resuming a run from durable state.
func FromNodes(runID string, nodes []*models.TaskNode) (*Graph, error) {
	g := &Graph{RunID: runID, byID: make(map[string]*models.TaskNode)}

	for _, node := range nodes {
		if err := g.add(node); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// Build constructs the static node set for one run. Fan-in nodes (mixdown,
// merge_transcripts) initially depend on fetch_participants; the fan-out
// expansion rewires them to the per-track chains. Notify nodes are best
// effort: their failure is recorded but never demotes a completed run.
func Build(runID, inputRef string, metadata map[string]any) (*Graph, error) {
	g := &Graph{RunID: runID, byID: make(map[string]*models.TaskNode)}
	now := time.Now().UTC()

	node := func(id string, taskType models.TaskType, parents []string) *models.TaskNode {
		return &models.TaskNode{
			ID:         id,
			RunID:      runID,
			Type:       taskType,
			Parents:    parents,
			JoinPolicy: models.JoinStrict,
			Status:     models.NodeStatusQueued,
			CreatedAt:  now,
		}
	}

	fetchRecording := node(NodeFetchRecording, models.TaskTypeFetchRecording, nil)
	fetchRecording.Input = map[string]any{"input_reference": inputRef}

	fetchParticipants := node(NodeFetchParticipants, models.TaskTypeFetchParticipants, []string{NodeFetchRecording})

	mixdown := node(NodeMixdown, models.TaskTypeMixdown, []string{NodeFetchParticipants})
	mixdown.JoinPolicy = models.JoinLenient

	waveform := node(NodeWaveform, models.TaskTypeWaveform, []string{NodeMixdown})

	merge := node(NodeMergeTranscripts, models.TaskTypeMergeTranscripts, []string{NodeFetchParticipants})
	merge.JoinPolicy = models.JoinLenient

	topics := node(NodeDetectTopics, models.TaskTypeDetectTopics, []string{NodeMergeTranscripts})
	title := node(NodeGenerateTitle, models.TaskTypeGenerateTitle, []string{NodeDetectTopics})
	summary := node(NodeGenerateSummary, models.TaskTypeGenerateSummary, []string{NodeMergeTranscripts})

	finalize := node(NodeFinalize, models.TaskTypeFinalize,
		[]string{NodeMixdown, NodeWaveform, NodeGenerateTitle, NodeGenerateSummary})

	notifyChat := node(NodeNotifyChat, models.TaskTypeNotifyChat, []string{NodeFinalize})
	notifyChat.BestEffort = true
	notifyWebhook := node(NodeNotifyWebhook, models.TaskTypeNotifyWebhook, []string{NodeFinalize})
	notifyWebhook.BestEffort = true

	// finalize is a cleanup parent so that cleanup still runs when both
	// best-effort notifies fail and the lenient join would otherwise see
	// zero completed parents.
	cleanup := node(NodeCleanup, models.TaskTypeCleanup, []string{NodeFinalize, NodeNotifyChat, NodeNotifyWebhook})
	cleanup.JoinPolicy = models.JoinLenient
	cleanup.BestEffort = true

	if metadata != nil {
		fetchRecording.Input["metadata"] = metadata
	}

	for _, n := range []*models.TaskNode{
		fetchRecording, fetchParticipants,
		mixdown, waveform,
		merge, topics, title, summary,
		finalize, notifyChat, notifyWebhook, cleanup,
	} {
		if err := g.add(n); err != nil {
			return nil, err
		}
	}

	return g, nil
}
