// setting_repository.go implements SettingRepository, the key/value store behind
// the settings service. Values are stored as JSONB.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/routedesk/routedesk/internal/db/models"
)

// SettingRepository handles database operations for system settings
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository creates a new setting repository
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetSetting retrieves a setting by key, or nil when it has never been set
func (r *SettingRepository) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	query := `SELECT key, value, updated_at, updated_by FROM settings WHERE key = $1`
	err := r.db.GetContext(ctx, &s, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSettings returns every stored setting
func (r *SettingRepository) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	query := `SELECT key, value, updated_at, updated_by FROM settings ORDER BY key`
	err := r.db.SelectContext(ctx, &settings, query)
	return settings, err
}

// UpsertSetting stores the JSON encoding of value under key
func (r *SettingRepository) UpsertSetting(ctx context.Context, key string, value json.RawMessage, updatedBy *string) error {
	query := `
		INSERT INTO settings (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`

	_, err := r.db.ExecContext(ctx, query, key, []byte(value), time.Now(), updatedBy)
	return err
}

// UpsertSettings stores several settings in one transaction
func (r *SettingRepository) UpsertSettings(ctx context.Context, values map[string]json.RawMessage, updatedBy *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO settings (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`

	now := time.Now()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, key, []byte(value), now, updatedBy); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSetting removes a stored setting so it reverts to its default
func (r *SettingRepository) DeleteSetting(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, key)
	return err
}
