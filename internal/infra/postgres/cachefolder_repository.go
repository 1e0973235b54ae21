package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// CacheFolderRepository backs internal/infra/cachealloc.Store: it is the
// single source of truth for currentSizeBytes, guarded by the conditional
// UPDATE TryReserve describes in the Store interface doc comment.
type CacheFolderRepository struct {
	pool *pgxpool.Pool
}

// NewCacheFolderRepository constructs a CacheFolderRepository.
func NewCacheFolderRepository(pool *pgxpool.Pool) *CacheFolderRepository {
	return &CacheFolderRepository{pool: pool}
}

// Create inserts a new cache folder row.
func (r *CacheFolderRepository) Create(ctx context.Context, f *cachefolder.CacheFolder) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		INSERT INTO cache_folders (id, name, path, kind, priority, max_size_bytes, current_size_bytes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, f.ID, f.Name, f.Path, string(f.Kind), f.Priority, f.MaxSizeBytes, f.CurrentSizeBytes, f.IsActive, f.CreatedAt, f.UpdatedAt)
	return err
}

// ListActiveByPriority returns every active folder of kind, ordered by
// priority ascending then remaining capacity descending, matching the
// ordering cachealloc.pickCandidate expects.
func (r *CacheFolderRepository) ListActiveByPriority(ctx context.Context, kind cachefolder.Kind) ([]*cachefolder.CacheFolder, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, `
		SELECT id, name, path, kind, priority, max_size_bytes, current_size_bytes, is_active, created_at, updated_at
		FROM cache_folders
		WHERE kind = $1 AND is_active = true
		ORDER BY priority ASC, (max_size_bytes - current_size_bytes) DESC
	`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cachefolder.CacheFolder
	for rows.Next() {
		var f cachefolder.CacheFolder
		var kindStr string
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &kindStr, &f.Priority, &f.MaxSizeBytes, &f.CurrentSizeBytes, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Kind = cachefolder.Kind(kindStr)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// TryReserve implements cachealloc.Store's single conditional increment:
// the row is only touched if the reservation keeps the folder under its cap.
func (r *CacheFolderRepository) TryReserve(ctx context.Context, folderID uuid.UUID, sizeBytes int64) (bool, error) {
	db := GetDBTX(ctx, r.pool)

	tag, err := db.Exec(ctx, `
		UPDATE cache_folders
		SET current_size_bytes = current_size_bytes + $2, updated_at = $3
		WHERE id = $1 AND is_active = true AND current_size_bytes + $2 <= max_size_bytes
	`, folderID, sizeBytes, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Release gives back sizeBytes, clamped at zero.
func (r *CacheFolderRepository) Release(ctx context.Context, folderID uuid.UUID, sizeBytes int64) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		UPDATE cache_folders
		SET current_size_bytes = GREATEST(current_size_bytes - $2, 0), updated_at = $3
		WHERE id = $1
	`, folderID, sizeBytes, time.Now())
	return err
}

// Deactivate marks a folder unavailable for new allocations.
func (r *CacheFolderRepository) Deactivate(ctx context.Context, folderID uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)
	tag, err := db.Exec(ctx, `UPDATE cache_folders SET is_active = false, updated_at = $2 WHERE id = $1`, folderID, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
