package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/library"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// LibraryRepository persists the top-level grouping collections belong to.
type LibraryRepository struct {
	pool *pgxpool.Pool
}

// NewLibraryRepository constructs a LibraryRepository.
func NewLibraryRepository(pool *pgxpool.Pool) *LibraryRepository {
	return &LibraryRepository{pool: pool}
}

// Create inserts a new library row.
func (r *LibraryRepository) Create(ctx context.Context, l *library.Library) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		INSERT INTO libraries (id, name, root_path, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.Name, l.RootPath, l.Description, l.IsActive, l.CreatedAt, l.UpdatedAt)
	return err
}

// GetByID loads one library by id.
func (r *LibraryRepository) GetByID(ctx context.Context, id uuid.UUID) (*library.Library, error) {
	db := GetDBTX(ctx, r.pool)
	row := db.QueryRow(ctx, `
		SELECT id, name, root_path, description, is_active, created_at, updated_at
		FROM libraries WHERE id = $1
	`, id)
	return scanLibrary(row)
}

// ListActive returns every active library.
func (r *LibraryRepository) ListActive(ctx context.Context) ([]*library.Library, error) {
	db := GetDBTX(ctx, r.pool)
	rows, err := db.Query(ctx, `
		SELECT id, name, root_path, description, is_active, created_at, updated_at
		FROM libraries WHERE is_active = true ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*library.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Update persists Name/Description/IsActive changes.
func (r *LibraryRepository) Update(ctx context.Context, l *library.Library) error {
	db := GetDBTX(ctx, r.pool)
	l.UpdatedAt = time.Now()
	tag, err := db.Exec(ctx, `
		UPDATE libraries SET name = $2, description = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`, l.ID, l.Name, l.Description, l.IsActive, l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanLibrary(row scannable) (*library.Library, error) {
	var l library.Library
	err := row.Scan(&l.ID, &l.Name, &l.RootPath, &l.Description, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, HandleNotFound(err)
	}
	return &l, nil
}
