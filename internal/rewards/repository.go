package rewards

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	GetPool(ctx context.Context, contractID uint64) (*Pool, error)
	// CreatePool inserts the pool unless one exists; reports whether it inserted
	CreatePool(ctx context.Context, pool *Pool) (bool, error)
	IncrementPool(ctx context.Context, contractID, amount uint64) error
	// DecrementPool subtracts amount only if the balance covers it
	DecrementPool(ctx context.Context, contractID, amount uint64) (bool, error)
	TotalReserved(ctx context.Context) (uint64, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetPool(ctx context.Context, contractID uint64) (*Pool, error) {
	var pool Pool
	query := r.db.Rebind("SELECT contract_id, balance, created_at, updated_at FROM reward_pools WHERE contract_id = ?")
	err := r.db.GetContext(ctx, &pool, query, contractID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *postgresRepository) CreatePool(ctx context.Context, pool *Pool) (bool, error) {
	now := time.Now().UTC()
	pool.CreatedAt, pool.UpdatedAt = now, now
	query := r.db.Rebind(`
		INSERT INTO reward_pools (contract_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contract_id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query, pool.ContractID, pool.Balance, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create reward pool: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *postgresRepository) IncrementPool(ctx context.Context, contractID, amount uint64) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO reward_pools (contract_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contract_id) DO UPDATE SET
			balance = reward_pools.balance + excluded.balance,
			updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query, contractID, amount, now, now)
	return err
}

func (r *postgresRepository) DecrementPool(ctx context.Context, contractID, amount uint64) (bool, error) {
	query := r.db.Rebind(`
		UPDATE reward_pools SET
			balance = balance - ?,
			updated_at = ?
		WHERE contract_id = ? AND balance >= ?`)
	res, err := r.db.ExecContext(ctx, query, amount, time.Now().UTC(), contractID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to decrement reward pool: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *postgresRepository) TotalReserved(ctx context.Context) (uint64, error) {
	var total uint64
	err := r.db.GetContext(ctx, &total, "SELECT COALESCE(SUM(balance), 0) FROM reward_pools")
	return total, err
}
