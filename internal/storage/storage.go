// Package storage persists recorded segments and their index on the local
// filesystem or in Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Read for a missing file
var ErrNotFound = errors.New("file not found")

// Storage interface for storing and retrieving recorded segments
type Storage interface {
	// Write writes data to a file path
	Write(ctx context.Context, path string, data []byte) error

	// Read reads data from a file path
	Read(ctx context.Context, path string) ([]byte, error)

	// Delete deletes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)

	// List lists files in a directory
	List(ctx context.Context, dir string) ([]string, error)
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
	log     logrus.FieldLogger
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string, log logrus.FieldLogger) (*LocalStorage, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		log:     log.WithField("storage", "local"),
	}, nil
}

func (s *LocalStorage) fullPath(p string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(p))
}

// Write writes data to a file, creating parent directories
func (s *LocalStorage) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := s.fullPath(p)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.log.WithFields(logrus.Fields{"path": p, "bytes": len(data)}).Debug("Wrote file")
	return nil
}

// Read reads data from a file
func (s *LocalStorage) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.fullPath(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete deletes a file
func (s *LocalStorage) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.fullPath(p))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// List lists files in a directory. A missing directory lists as empty.
func (s *LocalStorage) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.fullPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// ContentType picks the object content type by extension
func ContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".flv":
		return "video/x-flv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// CacheControl keeps the index uncached; finished segments never change
func CacheControl(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return "no-cache, no-store, must-revalidate"
	case ".flv":
		return "public, max-age=3600"
	default:
		return "public, max-age=300"
	}
}
