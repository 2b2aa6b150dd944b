// Package file provides file-based persistence: one JSON document per run
// holding the run record and its node table. Writes go through a temp file
// and rename so a crash never leaves a half-written document.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	runs  *runRepository
	nodes *nodeRepository
}

// document is the on-disk shape of one run.
type document struct {
	Run   *models.Run        `json:"run"`
	Nodes []*models.TaskNode `json:"nodes"`
}

func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(filepath.Join(cleanRoot, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("create runs directory: %w", err)
	}

	p := &Persistence{
		root:  cleanRoot,
		locks: make(map[string]*sync.Mutex),
	}
	p.runs = &runRepository{persistence: p}
	p.nodes = &nodeRepository{persistence: p}

	return p, nil
}

func (fp *Persistence) Runs() persistence.RunRepository   { return fp.runs }
func (fp *Persistence) Nodes() persistence.NodeRepository { return fp.nodes }

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// lockRun returns the per-run mutex, creating it on first use. All reads and
// writes of one run document serialize through it, which is what makes the
// compare-and-set transitions atomic for this backend.
func (fp *Persistence) lockRun(runID string) *sync.Mutex {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	lock, ok := fp.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		fp.locks[runID] = lock
	}

	return lock
}

func (fp *Persistence) runPath(runID string) string {
	return filepath.Join(fp.root, "runs", runID+".json")
}

// read loads a run document. Callers must hold the run lock.
func (fp *Persistence) read(runID string) (*document, error) {
	data, err := os.ReadFile(fp.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}

	return &doc, nil
}

// write persists a run document atomically. Callers must hold the run lock.
func (fp *Persistence) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", doc.Run.ID, err)
	}

	path := fp.runPath(doc.Run.ID)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", doc.Run.ID, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit run %s: %w", doc.Run.ID, err)
	}

	return nil
}
