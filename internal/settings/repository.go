package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Set(ctx context.Context, setting *Setting) error
	List(ctx context.Context) ([]Setting, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Get(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	query := r.db.Rebind("SELECT key, value, updated_by, updated_at FROM platform_settings WHERE key = ?")
	err := r.db.GetContext(ctx, &setting, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &setting, nil
}

func (r *postgresRepository) Set(ctx context.Context, setting *Setting) error {
	setting.UpdatedAt = time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO platform_settings (key, value, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, setting.Key, setting.Value, setting.UpdatedBy, setting.UpdatedAt); err != nil {
		return fmt.Errorf("failed to store setting %s: %w", setting.Key, err)
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Setting, error) {
	var settings []Setting
	err := r.db.SelectContext(ctx, &settings, "SELECT key, value, updated_by, updated_at FROM platform_settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
