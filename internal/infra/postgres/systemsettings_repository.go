package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/systemsettings"
)

// SystemSettingsRepository persists the operator-tunable key/value bag,
// one row per dot-notation key, as systemsettings.SystemSettings describes.
type SystemSettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSystemSettingsRepository constructs a SystemSettingsRepository.
func NewSystemSettingsRepository(pool *pgxpool.Pool) *SystemSettingsRepository {
	return &SystemSettingsRepository{pool: pool}
}

// Load reads every persisted key/value pair into a SystemSettings snapshot.
func (r *SystemSettingsRepository) Load(ctx context.Context) (*systemsettings.SystemSettings, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return systemsettings.FromMap(values), nil
}

// Set upserts a single key/value pair.
func (r *SystemSettingsRepository) Set(ctx context.Context, key, value string) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
