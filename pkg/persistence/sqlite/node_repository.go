package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
)

type nodeRepository struct {
	store *Store
}

const nodeColumns = `run_id, id, type, parents_json, join_policy, best_effort,
    status, attempts, input_json, output_json, error, next_retry_at,
    created_at, started_at, finished_at`

func (r *nodeRepository) InsertGraph(ctx context.Context, runID string, nodes []*models.TaskNode) error {
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(
			ctx, `SELECT COUNT(*) FROM task_nodes WHERE run_id = ?`, runID,
		).Scan(&existing); err != nil {
			return err
		}

		if existing > 0 {
			return fmt.Errorf("run %s already has a node table", runID)
		}

		for i, node := range nodes {
			if err := insertNode(ctx, tx, node, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *nodeRepository) ExpandFanOut(ctx context.Context, expansion *graph.Expansion) error {
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM task_nodes WHERE run_id = ? AND id LIKE ?`,
			expansion.RunID,
			graph.NodePadTrackPrefix+":%",
		).Scan(&existing); err != nil {
			return err
		}

		if existing > 0 {
			return persistence.ErrFanOutMaterialized
		}

		var maxOrd int
		if err := tx.QueryRowContext(
			ctx, `SELECT COALESCE(MAX(ord), 0) FROM task_nodes WHERE run_id = ?`, expansion.RunID,
		).Scan(&maxOrd); err != nil {
			return err
		}

		for i, node := range expansion.Added {
			if err := insertNode(ctx, tx, node, maxOrd+1+i); err != nil {
				return err
			}
		}

		for nodeID, parents := range expansion.Rewired {
			parentsJSON, err := json.Marshal(parents)
			if err != nil {
				return err
			}

			res, err := tx.ExecContext(
				ctx,
				`UPDATE task_nodes SET parents_json = ? WHERE run_id = ? AND id = ?`,
				string(parentsJSON),
				expansion.RunID,
				nodeID,
			)
			if err != nil {
				return err
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}

			if affected == 0 {
				return fmt.Errorf("rewire %s: %w", nodeID, persistence.ErrNodeNotFound)
			}
		}

		return nil
	})
}

func (r *nodeRepository) Get(ctx context.Context, runID, nodeID string) (*models.TaskNode, error) {
	row := r.store.db.QueryRowContext(
		ctx,
		`SELECT `+nodeColumns+` FROM task_nodes WHERE run_id = ? AND id = ?`,
		runID, nodeID,
	)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s in run %s: %w", nodeID, runID, persistence.ErrNodeNotFound)
	}

	return node, err
}

func (r *nodeRepository) ListByRun(ctx context.Context, runID string) ([]*models.TaskNode, error) {
	rows, err := r.store.db.QueryContext(
		ctx,
		`SELECT `+nodeColumns+` FROM task_nodes WHERE run_id = ? ORDER BY ord`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.TaskNode

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

func (r *nodeRepository) Transition(
	ctx context.Context,
	runID, nodeID string,
	expected, next models.NodeStatus,
	mutate persistence.NodeMutation,
) (*models.TaskNode, error) {
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("node %s: %s -> %s: %w", nodeID, expected, next, persistence.ErrInvalidTransition)
	}

	var result *models.TaskNode

	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+nodeColumns+` FROM task_nodes WHERE run_id = ? AND id = ?`,
			runID, nodeID,
		)

		node, err := scanNode(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("node %s in run %s: %w", nodeID, runID, persistence.ErrNodeNotFound)
		}

		if err != nil {
			return err
		}

		if node.Status != expected {
			return fmt.Errorf("node %s is %s, expected %s: %w", nodeID, node.Status, expected, persistence.ErrConflict)
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

		outputJSON, err := marshalMap(node.Output)
		if err != nil {
			return err
		}

		// Status guard repeated in the UPDATE so two racing transactions
		// cannot both claim the node.
		res, err := tx.ExecContext(
			ctx,
			`UPDATE task_nodes SET
                status = ?, attempts = ?, output_json = ?, error = ?,
                next_retry_at = ?, started_at = ?, finished_at = ?
             WHERE run_id = ? AND id = ? AND status = ?`,
			string(node.Status),
			node.Attempts,
			outputJSON,
			nullableString(node.Error),
			nullableTime(node.NextRetryAt),
			nullableTime(node.StartedAt),
			nullableTime(node.FinishedAt),
			runID, nodeID, string(expected),
		)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 {
			return fmt.Errorf("node %s expected %s: %w", nodeID, expected, persistence.ErrConflict)
		}

		result = node

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func insertNode(ctx context.Context, tx *sql.Tx, node *models.TaskNode, ord int) error {
	parentsJSON, err := json.Marshal(node.Parents)
	if err != nil {
		return err
	}

	inputJSON, err := marshalMap(node.Input)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO task_nodes (`+nodeColumns+`, ord)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.RunID,
		node.ID,
		string(node.Type),
		string(parentsJSON),
		string(node.JoinPolicy),
		boolToInt(node.BestEffort),
		string(node.Status),
		node.Attempts,
		inputJSON,
		nil,
		nullableString(node.Error),
		nullableTime(node.NextRetryAt),
		node.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(node.StartedAt),
		nullableTime(node.FinishedAt),
		ord,
	)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}

	return nil
}

func scanNode(row rowScanner) (*models.TaskNode, error) {
	var (
		node        models.TaskNode
		taskType    string
		parentsJSON string
		joinPolicy  string
		bestEffort  int
		status      string
		inputJSON   sql.NullString
		outputJSON  sql.NullString
		errMsg      sql.NullString
		nextRetryAt sql.NullString
		createdAt   string
		startedAt   sql.NullString
		finishedAt  sql.NullString
	)

	if err := row.Scan(
		&node.RunID, &node.ID, &taskType, &parentsJSON, &joinPolicy, &bestEffort,
		&status, &node.Attempts, &inputJSON, &outputJSON, &errMsg, &nextRetryAt,
		&createdAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	node.Type = models.TaskType(taskType)
	node.JoinPolicy = models.JoinPolicy(joinPolicy)
	node.BestEffort = bestEffort != 0
	node.Status = models.NodeStatus(status)
	node.Error = errMsg.String

	if err := json.Unmarshal([]byte(parentsJSON), &node.Parents); err != nil {
		return nil, fmt.Errorf("decode parents of %s: %w", node.ID, err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	node.CreatedAt = created

	if node.NextRetryAt, err = parseTimePtr(nextRetryAt); err != nil {
		return nil, err
	}

	if node.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}

	if node.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}

	if err := unmarshalMap(inputJSON, &node.Input); err != nil {
		return nil, err
	}

	if err := unmarshalMap(outputJSON, &node.Output); err != nil {
		return nil, err
	}

	return &node, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
