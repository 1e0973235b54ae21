package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// CollectionRepository is the Collection Store of 4.E: the embedded
// images/thumbnails/cacheImages arrays live as jsonb columns on the
// collections row and are mutated only through the atomic push operators
// below, never by read-modify-write of the whole document.
type CollectionRepository struct {
	pool *pgxpool.Pool
}

// NewCollectionRepository constructs a CollectionRepository.
func NewCollectionRepository(pool *pgxpool.Pool) *CollectionRepository {
	return &CollectionRepository{pool: pool}
}

// Create inserts a new Collection row with empty embedded arrays.
func (r *CollectionRepository) Create(ctx context.Context, c *collection.Collection) error {
	db := GetDBTX(ctx, r.pool)

	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	stats, err := json.Marshal(c.Statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO collections (id, library_id, name, path, type, settings, images, thumbnails, cache_images, statistics, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, '[]'::jsonb, '[]'::jsonb, '[]'::jsonb, $7::jsonb, $8, $9, false)
	`, c.ID, c.LibraryID, c.Name, c.Path, string(c.Type), settings, stats, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetByID loads one Collection including its full embedded arrays.
func (r *CollectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*collection.Collection, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, `
		SELECT id, library_id, name, path, type, settings, images, thumbnails, cache_images, statistics, created_at, updated_at, is_deleted
		FROM collections WHERE id = $1 AND is_deleted = false
	`, id)

	return scanCollection(row)
}

// ListByLibrary returns every active collection belonging to libraryID.
func (r *CollectionRepository) ListByLibrary(ctx context.Context, libraryID uuid.UUID) ([]*collection.Collection, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, `
		SELECT id, library_id, name, path, type, settings, images, thumbnails, cache_images, statistics, created_at, updated_at, is_deleted
		FROM collections WHERE library_id = $1 AND is_deleted = false ORDER BY created_at
	`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*collection.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanCollection(row scannable) (*collection.Collection, error) {
	var (
		c                                      collection.Collection
		typ                                    string
		settingsRaw, imagesRaw, thumbsRaw, cacheRaw, statsRaw []byte
	)
	err := row.Scan(&c.ID, &c.LibraryID, &c.Name, &c.Path, &typ, &settingsRaw, &imagesRaw, &thumbsRaw, &cacheRaw, &statsRaw, &c.CreatedAt, &c.UpdatedAt, &c.IsDeleted)
	if err != nil {
		return nil, HandleNotFound(err)
	}
	c.Type = collection.Type(typ)

	if err := json.Unmarshal(settingsRaw, &c.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if len(imagesRaw) > 0 {
		if err := json.Unmarshal(imagesRaw, &c.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}
	if len(thumbsRaw) > 0 {
		if err := json.Unmarshal(thumbsRaw, &c.Thumbnails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal thumbnails: %w", err)
		}
	}
	if len(cacheRaw) > 0 {
		if err := json.Unmarshal(cacheRaw, &c.CacheImages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cache images: %w", err)
		}
	}
	if err := json.Unmarshal(statsRaw, &c.Statistics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
	}
	return &c, nil
}

// AtomicAddImage appends img to the collection's images array and bumps
// totalItems/totalSize in the same statement, per 4.E: "images = images ||
// to_jsonb(ARRAY[$1]) plus a statistics increment in the same statement."
func (r *CollectionRepository) AtomicAddImage(ctx context.Context, collectionID uuid.UUID, img collection.EmbeddedImage) error {
	db := GetDBTX(ctx, r.pool)

	payload, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("failed to marshal embedded image: %w", err)
	}

	tag, err := db.Exec(ctx, `
		UPDATE collections
		SET images = images || jsonb_build_array($2::jsonb),
		    statistics = jsonb_set(
		        jsonb_set(statistics, '{TotalItems}', (COALESCE((statistics->>'TotalItems')::int, 0) + 1)::text::jsonb),
		        '{TotalSize}', (COALESCE((statistics->>'TotalSize')::bigint, 0) + $3)::text::jsonb
		    ),
		    updated_at = $4
		WHERE id = $1 AND is_deleted = false
	`, collectionID, payload, img.FileSize, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AtomicAddThumbnail appends a thumbnail unless one already exists for the
// same (imageId, width, height) key, the dedupe guard 4.E describes as
// "mirroring the conditional-push algebra in 4.G's tie-break rule."
// Returns added=false (no error) when the row already existed.
func (r *CollectionRepository) AtomicAddThumbnail(ctx context.Context, collectionID uuid.UUID, t collection.EmbeddedThumbnail) (bool, error) {
	db := GetDBTX(ctx, r.pool)

	payload, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("failed to marshal embedded thumbnail: %w", err)
	}

	tag, err := db.Exec(ctx, `
		UPDATE collections
		SET thumbnails = thumbnails || jsonb_build_array($2::jsonb),
		    statistics = jsonb_set(
		        jsonb_set(statistics, '{TotalThumbnails}', (COALESCE((statistics->>'TotalThumbnails')::int, 0) + 1)::text::jsonb),
		        '{TotalThumbnailSize}', (COALESCE((statistics->>'TotalThumbnailSize')::bigint, 0) + $6)::text::jsonb
		    ),
		    updated_at = $7
		WHERE id = $1
		  AND is_deleted = false
		  AND NOT EXISTS (
		    SELECT 1 FROM jsonb_array_elements(thumbnails) AS existing
		    WHERE (existing->>'ImageID')::uuid = $3
		      AND (existing->>'Width')::int = $4
		      AND (existing->>'Height')::int = $5
		  )
	`, collectionID, payload, t.ImageID, t.Width, t.Height, t.FileSize, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AtomicAddCacheImage appends a cache derivative unless one already exists
// for imageID (unique per ImageID, per §3).
func (r *CollectionRepository) AtomicAddCacheImage(ctx context.Context, collectionID uuid.UUID, c collection.EmbeddedCache) (bool, error) {
	db := GetDBTX(ctx, r.pool)

	payload, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("failed to marshal embedded cache image: %w", err)
	}

	tag, err := db.Exec(ctx, `
		UPDATE collections
		SET cache_images = cache_images || jsonb_build_array($2::jsonb),
		    statistics = jsonb_set(
		        jsonb_set(statistics, '{TotalCacheFiles}', (COALESCE((statistics->>'TotalCacheFiles')::int, 0) + 1)::text::jsonb),
		        '{TotalCacheSize}', (COALESCE((statistics->>'TotalCacheSize')::bigint, 0) + $4)::text::jsonb
		    ),
		    updated_at = $5
		WHERE id = $1
		  AND is_deleted = false
		  AND NOT EXISTS (
		    SELECT 1 FROM jsonb_array_elements(cache_images) AS existing
		    WHERE (existing->>'ImageID')::uuid = $3
		  )
	`, collectionID, payload, c.ImageID, c.FileSize, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClearImageArrays empties images/thumbnails/cacheImages and zeroes
// statistics, used before a forced full rescan replaces a collection's
// contents wholesale.
func (r *CollectionRepository) ClearImageArrays(ctx context.Context, collectionID uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)

	tag, err := db.Exec(ctx, `
		UPDATE collections
		SET images = '[]'::jsonb,
		    thumbnails = '[]'::jsonb,
		    cache_images = '[]'::jsonb,
		    statistics = '{}'::jsonb,
		    updated_at = $2
		WHERE id = $1 AND is_deleted = false
	`, collectionID, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RecalculateStatistics derives Statistics from the embedded arrays and
// writes it back, the safety-net path P3 describes for when the hot-path
// increments have drifted (never used on the hot path itself).
func (r *CollectionRepository) RecalculateStatistics(ctx context.Context, collectionID uuid.UUID) (collection.Statistics, error) {
	c, err := r.GetByID(ctx, collectionID)
	if err != nil {
		return collection.Statistics{}, err
	}
	stats := c.RecalculatedStatistics()

	payload, err := json.Marshal(stats)
	if err != nil {
		return collection.Statistics{}, fmt.Errorf("failed to marshal recalculated statistics: %w", err)
	}

	db := GetDBTX(ctx, r.pool)
	_, err = db.Exec(ctx, `UPDATE collections SET statistics = $2::jsonb, updated_at = $3 WHERE id = $1`,
		collectionID, payload, time.Now())
	if err != nil {
		return collection.Statistics{}, err
	}
	return stats, nil
}

// Delete soft-deletes a collection row.
func (r *CollectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)
	tag, err := db.Exec(ctx, `UPDATE collections SET is_deleted = true, updated_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetSystemStatistics aggregates Statistics across every active collection,
// the read side of 4.E/6's system-wide statistics surface.
func (r *CollectionRepository) GetSystemStatistics(ctx context.Context) (collection.Statistics, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, `
		SELECT
		    COALESCE(SUM((statistics->>'TotalItems')::bigint), 0),
		    COALESCE(SUM((statistics->>'TotalSize')::bigint), 0),
		    COALESCE(SUM((statistics->>'TotalThumbnails')::bigint), 0),
		    COALESCE(SUM((statistics->>'TotalThumbnailSize')::bigint), 0),
		    COALESCE(SUM((statistics->>'TotalCacheFiles')::bigint), 0),
		    COALESCE(SUM((statistics->>'TotalCacheSize')::bigint), 0)
		FROM collections WHERE is_deleted = false
	`)

	var stats collection.Statistics
	var totalItems int64
	if err := row.Scan(&totalItems, &stats.TotalSize, &stats.TotalThumbnails, &stats.TotalThumbnailSize, &stats.TotalCacheFiles, &stats.TotalCacheSize); err != nil {
		return collection.Statistics{}, err
	}
	stats.TotalItems = int(totalItems)
	return stats, nil
}
