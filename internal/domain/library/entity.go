// Package library models the top-level grouping that owns a set of
// collections, e.g. "Comics" or "Photography 2024".
package library

import (
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Library is a named root under which collections are scanned and stored.
type Library struct {
	ID          uuid.UUID
	Name        string
	RootPath    string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New constructs an active Library rooted at rootPath.
func New(name, rootPath, description string) (*Library, error) {
	if name == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "name", "name is required")
	}
	if rootPath == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "root_path", "root_path is required")
	}

	now := time.Now()
	return &Library{
		ID:          shared.NewUUID(),
		Name:        name,
		RootPath:    rootPath,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Rename updates the library's display name.
func (l *Library) Rename(name string) error {
	if name == "" {
		return shared.NewFieldError(shared.ErrInvalidInput, "name", "name is required")
	}
	l.Name = name
	l.UpdatedAt = time.Now()
	return nil
}

// Deactivate marks the library excluded from future auto-scans without
// deleting any of its collections.
func (l *Library) Deactivate() {
	l.IsActive = false
	l.UpdatedAt = time.Now()
}
