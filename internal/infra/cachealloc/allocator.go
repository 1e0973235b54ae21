// Package cachealloc picks which on-disk cache folder a new thumbnail or
// cache derivative gets written to, spreading load across folders and
// refusing allocation once every folder is at capacity.
package cachealloc

import (
	"context"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

const maxReserveRetries = 5

// Store is the persistence boundary the allocator needs: listing active
// folders and performing the single conditional increment/decrement that
// makes concurrent allocation safe. Implemented by postgres.CacheFolderRepository.
type Store interface {
	ListActiveByPriority(ctx context.Context, kind cachefolder.Kind) ([]*cachefolder.CacheFolder, error)
	// TryReserve performs `UPDATE ... SET current_size_bytes = current_size_bytes + sizeBytes
	// WHERE id = folderID AND current_size_bytes + sizeBytes <= max_size_bytes`, returning
	// whether the row matched (i.e. the conditional update took effect).
	TryReserve(ctx context.Context, folderID uuid.UUID, sizeBytes int64) (bool, error)
	Release(ctx context.Context, folderID uuid.UUID, sizeBytes int64) error
}

// Allocation is the result of a successful Allocate call.
type Allocation struct {
	FolderID uuid.UUID
	FullPath string
}

// Allocator implements the Cache-Folder Allocator contract from 4.C: pick
// the first folder that fits in priority order (lowest priority value first,
// then most remaining capacity), reserve space atomically, and compose the
// artifact's on-disk path.
type Allocator struct {
	store Store
	// cache is an in-process LRU of recently-touched folders, bounded at 64
	// entries, purely an optimization to avoid re-listing on every call in
	// the common case of many allocations against the same small set of
	// folders. currentSizeBytes here may be stale; Store.TryReserve against
	// Postgres is always the source of truth.
	cache *lru.Cache[uuid.UUID, *cachefolder.CacheFolder]
}

// New constructs an Allocator backed by store.
func New(store Store) (*Allocator, error) {
	cache, err := lru.New[uuid.UUID, *cachefolder.CacheFolder](64)
	if err != nil {
		return nil, fmt.Errorf("failed to construct folder cache: %w", err)
	}
	return &Allocator{store: store, cache: cache}, nil
}

// Allocate reserves sizeBytes in an active folder of the given kind and
// returns the folder id plus the full path the caller should write the
// artifact's bytes to. filename is the caller-composed artifact file name
// (e.g. "<imageId>_thumb_<w>x<h>.<ext>" for thumbnails, per 4.C's naming
// contract) — the allocator only owns which folder it lands in, not how
// it's named.
func (a *Allocator) Allocate(ctx context.Context, kind cachefolder.Kind, collectionID uuid.UUID, filename string, sizeBytes int64) (Allocation, error) {
	for attempt := 0; attempt < maxReserveRetries; attempt++ {
		folders, err := a.store.ListActiveByPriority(ctx, kind)
		if err != nil {
			return Allocation{}, fmt.Errorf("failed to list cache folders: %w", err)
		}

		candidate := pickCandidate(folders, sizeBytes)
		if candidate == nil {
			return Allocation{}, shared.NewDomainError(shared.ErrNoCacheCapacity, "no active cache folder has room for this artifact")
		}

		reserved, err := a.store.TryReserve(ctx, candidate.ID, sizeBytes)
		if err != nil {
			return Allocation{}, fmt.Errorf("failed to reserve cache folder capacity: %w", err)
		}
		if !reserved {
			// Lost the race to a concurrent allocator; drop the stale cache
			// entry and retry from the top with a fresh listing.
			a.cache.Remove(candidate.ID)
			continue
		}

		a.cache.Add(candidate.ID, candidate)
		fullPath := filepath.Join(candidate.Path, collectionID.String(), filename)
		return Allocation{FolderID: candidate.ID, FullPath: fullPath}, nil
	}

	return Allocation{}, shared.NewDomainError(shared.ErrNoCacheCapacity, "exhausted retries reserving cache folder capacity")
}

// Release gives back sizeBytes to folderID's running total, e.g. when an
// artifact is deleted or a regeneration replaces it.
func (a *Allocator) Release(ctx context.Context, folderID uuid.UUID, sizeBytes int64) error {
	a.cache.Remove(folderID)
	return a.store.Release(ctx, folderID, sizeBytes)
}

// pickCandidate selects the first folder (already ordered by priority
// ascending, then by remaining capacity descending per the Store contract)
// that has room for sizeBytes.
func pickCandidate(folders []*cachefolder.CacheFolder, sizeBytes int64) *cachefolder.CacheFolder {
	for _, f := range folders {
		if f.Fits(sizeBytes) {
			return f
		}
	}
	return nil
}
