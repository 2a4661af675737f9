package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore implements Store on local disk, used for tests and for
// running the system without an S3 bucket configured. URLs it returns are
// file:// style paths relative to its root.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at dir, creating it if it
// doesn't exist. If dir is empty, os.TempDir()/mp3pipeline-objects is used.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mp3pipeline-objects")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create object store directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) pathForURL(url string) (string, bool) {
	rel := strings.TrimPrefix(url, "file://")
	if rel == url {
		return "", false
	}
	return filepath.Join(s.root, rel), true
}

// Exists implements Store.
func (s *LocalStore) Exists(_ context.Context, url string) (bool, error) {
	path, ok := s.pathForURL(url)
	if !ok {
		return false, nil
	}
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Download implements Store.
func (s *LocalStore) Download(_ context.Context, url string) ([]byte, error) {
	path, ok := s.pathForURL(url)
	if !ok {
		return nil, fmt.Errorf("not a local object URL: %s", url)
	}
	data, err := os.ReadFile(path) // #nosec G304 - path resolves under the configured object store root
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Upload implements Store. contentType is accepted for interface parity
// but local disk has no metadata slot to record it in.
func (s *LocalStore) Upload(_ context.Context, path, _ string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is produced by TempArena, not user input
	if err != nil {
		return "", fmt.Errorf("read file for upload: %w", err)
	}

	key := uuid.NewString() + filepath.Ext(path)
	dest := filepath.Join(s.root, key)
	if err := os.WriteFile(dest, data, 0o640); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}

	return "file://" + key, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(_ context.Context, url string) (bool, error) {
	path, ok := s.pathForURL(url)
	if !ok {
		return false, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return true, nil
}
