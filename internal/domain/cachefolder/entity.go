// Package cachefolder tracks the on-disk storage buckets that hold
// generated thumbnail and cache derivatives, so the allocator can spread
// writes across them and refuse new entries once a folder is full.
package cachefolder

import (
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Kind distinguishes thumbnail folders from cache-image folders; capacity
// is tracked independently per kind since the two derivative types are
// sized very differently.
type Kind string

const (
	KindThumbnail Kind = "Thumbnail"
	KindCache     Kind = "Cache"
)

// CacheFolder is one allocation bucket: a directory plus the running
// totals the allocator consults before handing out a new slot.
type CacheFolder struct {
	ID               uuid.UUID
	Name             string
	Path             string
	Kind             Kind
	Priority         int // lower values are preferred by the allocator
	MaxSizeBytes     int64
	CurrentSizeBytes int64
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// New constructs an empty, active CacheFolder with the given capacity cap.
func New(name, path string, kind Kind, priority int, maxSizeBytes int64) (*CacheFolder, error) {
	if name == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "name", "name is required")
	}
	if path == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "path", "path is required")
	}
	switch kind {
	case KindThumbnail, KindCache:
	default:
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "kind", "unknown cache folder kind: "+string(kind))
	}
	if maxSizeBytes <= 0 {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "max_size_bytes", "must be positive")
	}

	now := time.Now()
	return &CacheFolder{
		ID:           shared.NewUUID(),
		Name:         name,
		Path:         path,
		Kind:         kind,
		Priority:     priority,
		MaxSizeBytes: maxSizeBytes,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RemainingCapacity is maxSizeBytes - currentSizeBytes, clamped at zero.
func (f *CacheFolder) RemainingCapacity() int64 {
	r := f.MaxSizeBytes - f.CurrentSizeBytes
	if r < 0 {
		return 0
	}
	return r
}

// Fits reports whether an entry of sizeBytes can be admitted without
// exceeding the folder's cap. Mirrors the allocator's conditional-update
// predicate (`currentSizeBytes + Δ ≤ maxSizeBytes`) so callers can check
// locally before attempting the store's atomic increment.
func (f *CacheFolder) Fits(sizeBytes int64) bool {
	return f.IsActive && f.CurrentSizeBytes+sizeBytes <= f.MaxSizeBytes
}

// Reserve accounts for a newly written entry of sizeBytes, failing with
// ErrNoCacheCapacity if it would overflow the cap. The store layer performs
// the equivalent check as a single conditional SQL UPDATE so this method
// is also safe to call on an in-memory snapshot for pre-flight filtering.
func (f *CacheFolder) Reserve(sizeBytes int64) error {
	if !f.Fits(sizeBytes) {
		return shared.NewDomainError(shared.ErrNoCacheCapacity, "cache folder has no remaining capacity")
	}
	f.CurrentSizeBytes += sizeBytes
	f.UpdatedAt = time.Now()
	return nil
}

// Release removes accounting for a deleted entry of sizeBytes, clamped at zero.
func (f *CacheFolder) Release(sizeBytes int64) {
	f.CurrentSizeBytes -= sizeBytes
	if f.CurrentSizeBytes < 0 {
		f.CurrentSizeBytes = 0
	}
	f.UpdatedAt = time.Now()
}

// Deactivate marks the folder unavailable for new allocations, e.g. once
// disk pressure on its mount crosses an operator-configured threshold.
func (f *CacheFolder) Deactivate() {
	f.IsActive = false
	f.UpdatedAt = time.Now()
}
