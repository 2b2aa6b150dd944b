package shadow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// Divergence kinds. A run can report several divergences at once.
const (
	KindRunStatus   = "run_status_mismatch"
	KindMissingNode = "missing_node"
	KindNodeStatus  = "node_status_mismatch"
	KindNodeOutput  = "node_output_mismatch"
	KindTimingDelta = "timing_delta"
)

type Divergence struct {
	NodeID string
	Kind   string
	Detail string
}

type Differ struct {
	// TimingThreshold is the per-node duration delta worth reporting.
	TimingThreshold time.Duration
}

func NewDiffer() *Differ {
	return &Differ{TimingThreshold: 30 * time.Second}
}

// Compare walks both node tables by structural node id. Output comparison
// goes through a JSON round trip so in-memory typed values and values read
// back from a store compare equal.
func (d *Differ) Compare(primary, shadow *models.RunSnapshot) []Divergence {
	var out []Divergence

	if primary.Run.Status != shadow.Run.Status {
		out = append(out, Divergence{
			Kind:   KindRunStatus,
			Detail: fmt.Sprintf("primary %s, shadow %s", primary.Run.Status, shadow.Run.Status),
		})
	}

	for _, node := range primary.Nodes {
		counterpart := shadow.Node(node.ID)
		if counterpart == nil {
			out = append(out, Divergence{
				NodeID: node.ID,
				Kind:   KindMissingNode,
				Detail: "node absent from shadow run",
			})

			continue
		}

		if node.Status != counterpart.Status {
			out = append(out, Divergence{
				NodeID: node.ID,
				Kind:   KindNodeStatus,
				Detail: fmt.Sprintf("primary %s, shadow %s", node.Status, counterpart.Status),
			})

			continue
		}

		if node.Status == models.NodeStatusCompleted && !outputsEqual(node.Output, counterpart.Output) {
			out = append(out, Divergence{
				NodeID: node.ID,
				Kind:   KindNodeOutput,
				Detail: "completed outputs differ",
			})
		}

		if delta, ok := durationDelta(node, counterpart); ok && delta > d.TimingThreshold {
			out = append(out, Divergence{
				NodeID: node.ID,
				Kind:   KindTimingDelta,
				Detail: fmt.Sprintf("duration delta %s", delta),
			})
		}
	}

	for _, node := range shadow.Nodes {
		if primary.Node(node.ID) == nil {
			out = append(out, Divergence{
				NodeID: node.ID,
				Kind:   KindMissingNode,
				Detail: "node absent from primary run",
			})
		}
	}

	return out
}

func outputsEqual(a, b map[string]any) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)

	if errA != nil || errB != nil {
		return false
	}

	return bytes.Equal(aJSON, bJSON)
}

func durationDelta(a, b *models.TaskNode) (time.Duration, bool) {
	if a.StartedAt == nil || a.FinishedAt == nil || b.StartedAt == nil || b.FinishedAt == nil {
		return 0, false
	}

	da := a.FinishedAt.Sub(*a.StartedAt)
	db := b.FinishedAt.Sub(*b.StartedAt)

	delta := da - db
	if delta < 0 {
		delta = -delta
	}

	return delta, true
}
