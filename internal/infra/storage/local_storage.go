package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrFileNotFound is returned when a file doesn't exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned when a path is empty or unsafe.
	ErrInvalidPath = errors.New("invalid or unsafe path")
)

// LocalStorage implements Storage against the local filesystem.
type LocalStorage struct{}

// NewLocalStorage constructs a LocalStorage. It holds no state: every
// call operates on the fullPath it is given, since cachealloc.Allocator
// (not this package) decides which cache-folder root an artifact belongs
// under.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// SaveBytes writes data to fullPath via a temp-file-then-rename so a
// concurrent reader never observes a partially written derivative.
func (s *LocalStorage) SaveBytes(ctx context.Context, fullPath string, data []byte) error {
	if err := validateStoragePath(fullPath); err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := fullPath + ".tmp"
	f, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, fullPath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return nil
}

// Get opens fullPath for reading.
func (s *LocalStorage) Get(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	if err := validateStoragePath(fullPath); err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes fullPath.
func (s *LocalStorage) Delete(ctx context.Context, fullPath string) error {
	if err := validateStoragePath(fullPath); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists reports whether fullPath is present.
func (s *LocalStorage) Exists(ctx context.Context, fullPath string) (bool, error) {
	if err := validateStoragePath(fullPath); err != nil {
		return false, err
	}

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

func validateStoragePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	return nil
}
