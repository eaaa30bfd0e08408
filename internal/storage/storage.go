// Package storage persists shell state as JSON documents under a data
// directory. Each document lives at <base>/<path...>.json.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage is a JSON document store on an afero filesystem.
type Storage struct {
	fs       afero.Fs
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Storage rooted at basePath on the OS filesystem.
func New(basePath string) *Storage {
	return NewWithFs(afero.NewOsFs(), basePath)
}

// NewWithFs creates a Storage on fs.
func NewWithFs(fs afero.Fs, basePath string) *Storage {
	return &Storage{
		fs:       fs,
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the storage root.
func (s *Storage) BasePath() string { return s.basePath }

func (s *Storage) pathToFile(path []string) string {
	return s.pathToDir(path) + ".json"
}

func (s *Storage) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get decodes the document at path into v.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := afero.ReadFile(s.fs, s.pathToFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Put writes v at path through a temp file and rename.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := s.pathToFile(path)
	if err := s.fs.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, filePath); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Update reads the document at path into v, applies fn, and writes v back,
// holding the document lock throughout. A missing document leaves v as is.
func (s *Storage) Update(ctx context.Context, path []string, v any, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := s.pathToFile(path)
	if err := s.fs.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := afero.ReadFile(s.fs, filePath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := fn(); err != nil {
		return err
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	tmpPath := filePath + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, filePath); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Delete removes the document at path. Deleting a missing document succeeds.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	filePath := s.pathToFile(path)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := s.fs.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List returns the documents and subdirectories at path, sorted.
func (s *Storage) List(ctx context.Context, path []string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			items = append(items, name)
		} else if strings.HasSuffix(name, ".json") {
			items = append(items, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(items)
	return items, nil
}

// Exists reports whether a document exists at path.
func (s *Storage) Exists(ctx context.Context, path []string) bool {
	_, err := s.fs.Stat(s.pathToFile(path))
	return err == nil
}

func (s *Storage) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(s.fs, filePath)
		s.locks[filePath] = lock
	}
	return lock
}
