package web

import (
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// CreateRunRequest is the POST /runs body.
type CreateRunRequest struct {
	InputRef string         `json:"input_reference" validate:"required,min=1"`
	Provider string         `json:"provider"        validate:"omitempty,oneof=pool flow shadow"`
	Metadata map[string]any `json:"metadata"`
}

// CreateRunResponse acknowledges an accepted run.
type CreateRunResponse struct {
	RunID    string           `json:"run_id"`
	Provider models.Provider  `json:"provider"`
	Status   models.RunStatus `json:"status"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	InputRef   string           `json:"input_reference"`
	Provider   models.Provider  `json:"provider"`
	Status     models.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// NodeView is one row of the snapshot's node status table.
type NodeView struct {
	NodeID     string            `json:"node_id"`
	TaskType   models.TaskType   `json:"task_type"`
	Status     models.NodeStatus `json:"status"`
	Attempts   int               `json:"attempts"`
	Parents    []string          `json:"parents"`
	Error      string            `json:"error,omitempty"`
	Output     map[string]any    `json:"output,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// RunDetail is the GET /runs/:id response: the run plus its node table.
type RunDetail struct {
	RunSummary

	Result map[string]any `json:"result,omitempty"`
	Nodes  []NodeView     `json:"nodes"`
}

func summarize(run *models.Run) RunSummary {
	return RunSummary{
		RunID:      run.ID,
		InputRef:   run.InputRef,
		Provider:   run.Provider,
		Status:     run.Status,
		Error:      run.Error,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
}

func detail(snapshot *models.RunSnapshot) RunDetail {
	nodes := make([]NodeView, 0, len(snapshot.Nodes))

	for _, node := range snapshot.Nodes {
		nodes = append(nodes, NodeView{
			NodeID:     node.ID,
			TaskType:   node.Type,
			Status:     node.Status,
			Attempts:   node.Attempts,
			Parents:    node.Parents,
			Error:      node.Error,
			Output:     node.Output,
			StartedAt:  node.StartedAt,
			FinishedAt: node.FinishedAt,
		})
	}

	return RunDetail{
		RunSummary: summarize(snapshot.Run),
		Result:     snapshot.Run.Result,
		Nodes:      nodes,
	}
}
