// Package collection models the ingest unit: a directory or archive of
// images plus the thumbnails and cache derivatives generated from them.
package collection

import (
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Type identifies the container format a Collection was discovered from.
type Type string

const (
	TypeDirectory Type = "Directory"
	TypeZip       Type = "Zip"
	TypeSevenZip  Type = "SevenZip"
	TypeRar       Type = "Rar"
	TypeTar       Type = "Tar"
)

// Format is the output encoding for a generated derivative.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// Settings holds per-collection derivative generation parameters. Zero
// values are filled in from SystemSettings defaults by the caller before
// a Collection is created (see systemsettings.Defaults).
type Settings struct {
	ThumbnailWidth   int
	ThumbnailHeight  int
	CacheWidth       int
	CacheHeight      int
	Quality          int
	EnableCache      bool
	AutoScan         bool
	PreserveOriginal bool
	Format           Format
}

// Statistics is the denormalized aggregate kept in sync by the Collection
// Store's atomic push operators; never recomputed on the hot path.
type Statistics struct {
	TotalItems         int
	TotalSize          int64
	TotalThumbnails    int
	TotalThumbnailSize int64
	TotalCacheFiles    int
	TotalCacheSize     int64
}

// EmbeddedImage is one enumerated archive/directory entry that was judged
// to be an image. Immutable after creation except for IsDeleted.
type EmbeddedImage struct {
	ID           uuid.UUID
	Filename     string
	RelativePath string // "<archive-path>#<inner-entry>" for archive members
	FileSize     int64
	Width        int
	Height       int
	Format       string
	IsDeleted    bool
}

// EmbeddedThumbnail is a generated small fixed-size derivative.
// Unique per (ImageID, Width, Height).
type EmbeddedThumbnail struct {
	ImageID     uuid.UUID
	Width       int
	Height      int
	Format      Format
	Quality     int
	StoragePath string
	FileSize    int64
	GeneratedAt time.Time
}

// EmbeddedCache is a generated resized, re-encoded delivery derivative.
// Unique per ImageID.
type EmbeddedCache struct {
	ImageID     uuid.UUID
	Width       int
	Height      int
	Format      Format
	Quality     int
	StoragePath string
	FileSize    int64
	GeneratedAt time.Time
}

// Collection is the ingest unit: a directory or archive plus its derived
// artifacts. Embedded arrays are owned exclusively by the Collection row
// and are mutated only through the Store's atomic push operators.
type Collection struct {
	ID          uuid.UUID
	LibraryID   uuid.UUID
	Name        string
	Path        string
	Type        Type
	Settings    Settings
	Images      []EmbeddedImage
	Thumbnails  []EmbeddedThumbnail
	CacheImages []EmbeddedCache
	Statistics  Statistics
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
}

// New constructs a Collection ready for persistence; embedded arrays start
// empty and are populated by the scan worker via the Store.
func New(libraryID uuid.UUID, name, path string, typ Type, settings Settings) (*Collection, error) {
	if err := shared.ValidateUUID(libraryID, "library_id"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "name", "name is required")
	}
	if path == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "path", "path is required")
	}

	now := time.Now()
	return &Collection{
		ID:        shared.NewUUID(),
		LibraryID: libraryID,
		Name:      name,
		Path:      path,
		Type:      typ,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ActiveImageCount returns the count of images not marked deleted; used to
// cross-check Statistics.TotalItems (P3).
func (c *Collection) ActiveImageCount() int {
	n := 0
	for _, img := range c.Images {
		if !img.IsDeleted {
			n++
		}
	}
	return n
}

// ActiveSize sums FileSize across non-deleted images.
func (c *Collection) ActiveSize() int64 {
	var total int64
	for _, img := range c.Images {
		if !img.IsDeleted {
			total += img.FileSize
		}
	}
	return total
}

// RecalculatedStatistics derives Statistics from the current embedded
// arrays. Used by the Store's RecalculateStatistics as a safety net, never
// on the hot path (see P3).
func (c *Collection) RecalculatedStatistics() Statistics {
	stats := Statistics{
		TotalItems: c.ActiveImageCount(),
		TotalSize:  c.ActiveSize(),
	}
	for _, t := range c.Thumbnails {
		stats.TotalThumbnails++
		stats.TotalThumbnailSize += t.FileSize
	}
	for _, ci := range c.CacheImages {
		stats.TotalCacheFiles++
		stats.TotalCacheSize += ci.FileSize
	}
	return stats
}
