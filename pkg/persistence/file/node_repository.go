package file

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
)

type nodeRepository struct {
	persistence *Persistence
}

func (r *nodeRepository) InsertGraph(_ context.Context, runID string, nodes []*models.TaskNode) error {
	lock := r.persistence.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(runID)
	if err != nil {
		return err
	}

	if len(doc.Nodes) > 0 {
		return fmt.Errorf("run %s already has a node table", runID)
	}

	doc.Nodes = nodes

	return r.persistence.write(doc)
}

func (r *nodeRepository) ExpandFanOut(_ context.Context, expansion *graph.Expansion) error {
	lock := r.persistence.lockRun(expansion.RunID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(expansion.RunID)
	if err != nil {
		return err
	}

	for _, node := range doc.Nodes {
		if strings.HasPrefix(node.ID, graph.NodePadTrackPrefix+":") {
			return persistence.ErrFanOutMaterialized
		}
	}

	byID := make(map[string]*models.TaskNode, len(doc.Nodes))
	for _, node := range doc.Nodes {
		byID[node.ID] = node
	}

	for nodeID, parents := range expansion.Rewired {
		node, ok := byID[nodeID]
		if !ok {
			return fmt.Errorf("rewire %s: %w", nodeID, persistence.ErrNodeNotFound)
		}

		node.Parents = parents
	}

	doc.Nodes = append(doc.Nodes, expansion.Added...)

	return r.persistence.write(doc)
}

func (r *nodeRepository) Get(_ context.Context, runID, nodeID string) (*models.TaskNode, error) {
	lock := r.persistence.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(runID)
	if err != nil {
		return nil, err
	}

	for _, node := range doc.Nodes {
		if node.ID == nodeID {
			return node, nil
		}
	}

	return nil, fmt.Errorf("node %s in run %s: %w", nodeID, runID, persistence.ErrNodeNotFound)
}

func (r *nodeRepository) ListByRun(_ context.Context, runID string) ([]*models.TaskNode, error) {
	lock := r.persistence.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(runID)
	if err != nil {
		return nil, err
	}

	return doc.Nodes, nil
}

func (r *nodeRepository) Transition(
	_ context.Context,
	runID, nodeID string,
	expected, next models.NodeStatus,
	mutate persistence.NodeMutation,
) (*models.TaskNode, error) {
	lock := r.persistence.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(runID)
	if err != nil {
		return nil, err
	}

	var node *models.TaskNode

	for _, n := range doc.Nodes {
		if n.ID == nodeID {
			node = n

			break
		}
	}

	if node == nil {
		return nil, fmt.Errorf("node %s in run %s: %w", nodeID, runID, persistence.ErrNodeNotFound)
	}

	if node.Status != expected {
		return nil, fmt.Errorf("node %s is %s, expected %s: %w", nodeID, node.Status, expected, persistence.ErrConflict)
	}

	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("node %s: %s -> %s: %w", nodeID, expected, next, persistence.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	node.Status = next

	switch next {
	case models.NodeStatusRunning:
		node.StartedAt = &now
	case models.NodeStatusCompleted, models.NodeStatusFailed, models.NodeStatusSkipped:
		node.FinishedAt = &now
	}

	if mutate != nil {
		mutate(node)
	}

	if err := r.persistence.write(doc); err != nil {
		return nil, err
	}

	return node, nil
}
