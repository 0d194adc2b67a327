package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirrormate/backend/models"
)

// VideoStorage stages uploaded artifacts between the client upload and
// the analysis worker. An artifact is written once per session, read
// once by the worker, and deleted exactly once when the session reaches
// a terminal state.
type VideoStorage interface {
	Save(ctx context.Context, path string, r io.Reader) error
	Read(ctx context.Context, path string) ([]byte, error)
	Size(ctx context.Context, path string) (int64, error)
	Delete(ctx context.Context, path string) error
}

// LocalVideoStorage provides filesystem-based staging for session videos
type LocalVideoStorage struct {
	dir   string
	mutex sync.RWMutex
}

// NewLocalVideoStorage creates a staging store rooted at the specified directory
func NewLocalVideoStorage(dir string) *LocalVideoStorage {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create storage directory", "dir", dir, "error", err)
	}
	return &LocalVideoStorage{dir: dir}
}

// fullPath confines the artifact path to the storage root.
func (s *LocalVideoStorage) fullPath(path string) string {
	return filepath.Join(s.dir, filepath.Base(path))
}

// Save writes the artifact, overwriting any previous upload for the
// same path (the fallback upload channel relies on upsert semantics).
func (s *LocalVideoStorage) Save(ctx context.Context, path string, r io.Reader) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	target := s.fullPath(path)
	f, err := os.Create(target)
	if err != nil {
		slog.Error("Failed to create artifact file", "path", target, "error", err)
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		slog.Error("Failed to write artifact", "path", target, "error", err)
		os.Remove(target)
		return err
	}

	slog.Info("Artifact staged", "path", path, "size", n)
	return nil
}

func (s *LocalVideoStorage) Read(ctx context.Context, path string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := os.ReadFile(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &models.ArtifactMissingError{Path: path}
		}
		slog.Error("Failed to read artifact", "path", path, "error", err)
		return nil, err
	}
	return data, nil
}

func (s *LocalVideoStorage) Size(ctx context.Context, path string) (int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	info, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &models.ArtifactMissingError{Path: path}
		}
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes a staged artifact. Deleting an already-removed
// artifact is not an error.
func (s *LocalVideoStorage) Delete(ctx context.Context, path string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.fullPath(path)); err != nil && !os.IsNotExist(err) {
		slog.Error("Failed to delete artifact", "path", path, "error", err)
		return err
	}
	slog.Info("Artifact deleted", "path", path)
	return nil
}
