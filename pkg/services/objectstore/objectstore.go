// Package objectstore abstracts the object store that holds recordings and
// derived artifacts. Task bodies use Exists checks as their idempotency
// guard before redoing work.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Local is a filesystem-backed store for development and tests. Production
// deployments point at an S3-compatible backend behind the same interface.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}

	return &Local{root: root}, nil
}

func (s *Local) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Local) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}

	return true, nil
}

func (s *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return data, nil
}

func (s *Local) Put(_ context.Context, key string, data []byte) error {
	path := s.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}

	return nil
}

func (s *Local) DeletePrefix(_ context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("refusing to delete empty prefix")
	}

	if err := os.RemoveAll(s.path(prefix)); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}

	return nil
}
