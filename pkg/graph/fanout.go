package graph

import (
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// Expansion is the dynamic fan-out produced after fetch_participants
// completes: one pad_track -> transcribe_track chain per discovered
// participant, plus the rewired parent sets of the fan-in nodes. Persistence
// applies the whole expansion as a single graph-mutation transaction so the
// fan-in cardinality is observed consistently before any child is scheduled.
type Expansion struct {
	RunID       string                       `json:"run_id"`
	Cardinality int                          `json:"cardinality"`
	Added       []*models.TaskNode           `json:"added"`
	Rewired     map[string][]string          `json:"rewired"` // Node id -> replacement parent set
	Policies    map[string]models.JoinPolicy `json:"policies,omitempty"`
}

// PadNodeID and TranscribeNodeID name the fan-out chain nodes for one
// 1-based track index.
func PadNodeID(index int) string        { return fmt.Sprintf("%s:%d", NodePadTrackPrefix, index) }
func TranscribeNodeID(index int) string { return fmt.Sprintf("%s:%d", NodeTranscribePrefix, index) }

const (
	NodePadTrackPrefix   = "pad_track"
	NodeTranscribePrefix = "transcribe_track"
)

// FanOut builds the expansion for the discovered participants. Cardinality
// is fixed at materialization time; zero participants is valid and leaves
// the fan-in nodes with their original fetch_participants dependency, which
// makes them immediately eligible with an empty input set.
func FanOut(g *Graph, participants []models.Participant) (*Expansion, error) {
	if g.Node(NodeFetchParticipants) == nil {
		return nil, fmt.Errorf("graph %s has no %s node", g.RunID, NodeFetchParticipants)
	}

	for i := 1; ; i++ {
		if g.Node(PadNodeID(i)) == nil {
			if i > 1 {
				return nil, fmt.Errorf("fan-out for run %s already materialized", g.RunID)
			}

			break
		}
	}

	expansion := &Expansion{
		RunID:       g.RunID,
		Cardinality: len(participants),
		Rewired:     make(map[string][]string),
	}

	if len(participants) == 0 {
		return expansion, nil
	}

	now := time.Now().UTC()
	padIDs := make([]string, 0, len(participants))
	transcribeIDs := make([]string, 0, len(participants))

	for i, participant := range participants {
		padID := PadNodeID(i + 1)
		transcribeID := TranscribeNodeID(i + 1)
		padIDs = append(padIDs, padID)
		transcribeIDs = append(transcribeIDs, transcribeID)

		expansion.Added = append(expansion.Added,
			&models.TaskNode{
				ID:         padID,
				RunID:      g.RunID,
				Type:       models.TaskTypePadTrack,
				Parents:    []string{NodeFetchParticipants},
				JoinPolicy: models.JoinStrict,
				Status:     models.NodeStatusQueued,
				Input: map[string]any{
					"track_id":        participant.TrackID,
					"track_reference": participant.TrackRef,
				},
				CreatedAt: now,
			},
			&models.TaskNode{
				ID:         transcribeID,
				RunID:      g.RunID,
				Type:       models.TaskTypeTranscribeTrack,
				Parents:    []string{padID},
				JoinPolicy: models.JoinStrict,
				Status:     models.NodeStatusQueued,
				Input: map[string]any{
					"track_id": participant.TrackID,
					"language": participant.Language,
					"speaker":  participant.Name,
				},
				CreatedAt: now,
			},
		)
	}

	expansion.Rewired[NodeMixdown] = padIDs
	expansion.Rewired[NodeMergeTranscripts] = transcribeIDs

	return expansion, nil
}

// Apply mutates an in-memory graph with the expansion. Durable stores apply
// the equivalent mutation transactionally; engines use Apply on their cached
// copy after the store commits.
func (e *Expansion) Apply(g *Graph) error {
	for _, node := range e.Added {
		if err := g.add(node); err != nil {
			return err
		}
	}

	for nodeID, parents := range e.Rewired {
		node := g.Node(nodeID)
		if node == nil {
			return fmt.Errorf("rewired node %q not in graph", nodeID)
		}

		for _, parent := range parents {
			if g.Node(parent) == nil {
				return fmt.Errorf("rewired parent %q not in graph", parent)
			}
		}

		node.Parents = parents
	}

	return nil
}
