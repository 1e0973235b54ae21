// Package storage writes rendered derivative bytes to their
// cachealloc-assigned full path on disk, atomically so a crash mid-write
// never leaves a half-written thumbnail behind for a reader to pick up.
package storage

import (
	"context"
	"io"
)

// Storage persists and retrieves a derivative artifact's bytes at a full
// path already computed by cachealloc.Allocator. Unlike a general-purpose
// object store it carries no notion of workspace/item scoping: the cache
// folder allocator already decided where an artifact lives.
type Storage interface {
	// SaveBytes writes data to fullPath atomically, creating any missing
	// parent directories.
	SaveBytes(ctx context.Context, fullPath string, data []byte) error

	// Get retrieves a file by its full path. The returned ReadCloser must
	// be closed by the caller.
	Get(ctx context.Context, fullPath string) (io.ReadCloser, error)

	// Delete removes a file, e.g. when a derivative is regenerated or its
	// source image is removed from a collection.
	Delete(ctx context.Context, fullPath string) error

	// Exists checks whether a file is present at fullPath.
	Exists(ctx context.Context, fullPath string) (bool, error)
}
