package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
)

type runRepository struct {
	store *Store
}

func (r *runRepository) Create(ctx context.Context, run *models.Run) error {
	metadataJSON, err := marshalMap(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		_, err := r.store.db.ExecContext(
			ctx,
			`INSERT INTO runs (
                id, input_reference, provider, status, metadata_json,
                error, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.InputRef,
			string(run.Provider),
			string(run.Status),
			metadataJSON,
			nullableString(run.Error),
			run.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		return nil
	})
}

func (r *runRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	row := r.store.db.QueryRowContext(
		ctx,
		`SELECT id, input_reference, provider, status, metadata_json, result_json,
                error, created_at, started_at, finished_at, archived_at
         FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, persistence.ErrRunNotFound)
	}

	return run, err
}

func (r *runRepository) List(ctx context.Context) ([]*models.Run, error) {
	rows, err := r.store.db.QueryContext(
		ctx,
		`SELECT id, input_reference, provider, status, metadata_json, result_json,
                error, created_at, started_at, finished_at, archived_at
         FROM runs ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *runRepository) UpdateStatus(ctx context.Context, id string, expected, next models.RunStatus) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("run %s: %s -> %s: %w", id, expected, next, persistence.ErrInvalidTransition)
	}

	column := ""

	switch next {
	case models.RunStatusRunning:
		column = "started_at"
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		column = "finished_at"
	}

	query := `UPDATE runs SET status = ? WHERE id = ? AND status = ?`
	args := []any{string(next), id, string(expected)}

	if column != "" {
		query = fmt.Sprintf(`UPDATE runs SET status = ?, %s = ? WHERE id = ? AND status = ?`, column)
		args = []any{string(next), time.Now().UTC().Format(time.RFC3339Nano), id, string(expected)}
	}

	return retryOnBusy(ctx, func() error {
		res, err := r.store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update run status: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if affected == 0 {
			// Either missing or the status guard rejected the write.
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return getErr
			}

			return fmt.Errorf("run %s expected %s: %w", id, expected, persistence.ErrConflict)
		}

		return nil
	})
}

func (r *runRepository) SetResult(ctx context.Context, id string, result map[string]any, errMsg string) error {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		res, execErr := r.store.db.ExecContext(
			ctx,
			`UPDATE runs SET result_json = ?, error = ? WHERE id = ?`,
			resultJSON,
			nullableString(errMsg),
			id,
		)
		if execErr != nil {
			return fmt.Errorf("set run result: %w", execErr)
		}

		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return affErr
		}

		if affected == 0 {
			return fmt.Errorf("run %s: %w", id, persistence.ErrRunNotFound)
		}

		return nil
	})
}

func (r *runRepository) Archive(ctx context.Context, id string, at time.Time) error {
	run, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if !run.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", id, run.Status, persistence.ErrInvalidTransition)
	}

	return retryOnBusy(ctx, func() error {
		_, err := r.store.db.ExecContext(
			ctx,
			`UPDATE runs SET archived_at = ? WHERE id = ?`,
			at.UTC().Format(time.RFC3339Nano),
			id,
		)

		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run          models.Run
		provider     string
		status       string
		metadataJSON sql.NullString
		resultJSON   sql.NullString
		errMsg       sql.NullString
		createdAt    string
		startedAt    sql.NullString
		finishedAt   sql.NullString
		archivedAt   sql.NullString
	)

	if err := row.Scan(
		&run.ID, &run.InputRef, &provider, &status, &metadataJSON, &resultJSON,
		&errMsg, &createdAt, &startedAt, &finishedAt, &archivedAt,
	); err != nil {
		return nil, err
	}

	run.Provider = models.Provider(provider)
	run.Status = models.RunStatus(status)
	run.Error = errMsg.String

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	run.CreatedAt = created

	if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}

	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}

	if run.ArchivedAt, err = parseTimePtr(archivedAt); err != nil {
		return nil, err
	}

	if err := unmarshalMap(metadataJSON, &run.Metadata); err != nil {
		return nil, err
	}

	if err := unmarshalMap(resultJSON, &run.Result); err != nil {
		return nil, err
	}

	return &run, nil
}

func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func unmarshalMap(value sql.NullString, dest *map[string]any) error {
	if !value.Valid || value.String == "" {
		return nil
	}

	return json.Unmarshal([]byte(value.String), dest)
}
