package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
)

type runRepository struct {
	persistence *Persistence
}

func (r *runRepository) Create(_ context.Context, run *models.Run) error {
	lock := r.persistence.lockRun(run.ID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(r.persistence.runPath(run.ID)); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	return r.persistence.write(&document{Run: run})
}

func (r *runRepository) Get(_ context.Context, id string) (*models.Run, error) {
	lock := r.persistence.lockRun(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(id)
	if err != nil {
		return nil, err
	}

	return doc.Run, nil
}

func (r *runRepository) List(ctx context.Context) ([]*models.Run, error) {
	entries, err := os.ReadDir(filepath.Join(r.persistence.root, "runs"))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*models.Run, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		run, err := r.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (r *runRepository) UpdateStatus(_ context.Context, id string, expected, next models.RunStatus) error {
	lock := r.persistence.lockRun(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(id)
	if err != nil {
		return err
	}

	if doc.Run.Status != expected {
		return fmt.Errorf("run %s is %s, expected %s: %w", id, doc.Run.Status, expected, persistence.ErrConflict)
	}

	if !expected.CanTransition(next) {
		return fmt.Errorf("run %s: %s -> %s: %w", id, expected, next, persistence.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	doc.Run.Status = next

	switch next {
	case models.RunStatusRunning:
		doc.Run.StartedAt = &now
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		doc.Run.FinishedAt = &now
	}

	return r.persistence.write(doc)
}

func (r *runRepository) SetResult(_ context.Context, id string, result map[string]any, errMsg string) error {
	lock := r.persistence.lockRun(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(id)
	if err != nil {
		return err
	}

	doc.Run.Result = result
	doc.Run.Error = errMsg

	return r.persistence.write(doc)
}

func (r *runRepository) Archive(_ context.Context, id string, at time.Time) error {
	lock := r.persistence.lockRun(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.persistence.read(id)
	if err != nil {
		return err
	}

	if !doc.Run.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", id, doc.Run.Status, persistence.ErrInvalidTransition)
	}

	doc.Run.ArchivedAt = &at

	return r.persistence.write(doc)
}
