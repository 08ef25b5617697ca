package liquidity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	GetRefund(ctx context.Context, principal string) (*Refund, error)
	// CreditRefund adds amount to principal once per contract; reports whether it applied
	CreditRefund(ctx context.Context, credit *RefundCredit) (bool, error)
	GetCredit(ctx context.Context, contractID uint64) (*RefundCredit, error)
	AddRefund(ctx context.Context, principal string, amount uint64) error
	// TakeRefund removes and returns the pending refund of principal
	TakeRefund(ctx context.Context, principal string) (*Refund, error)
	TotalPending(ctx context.Context) (uint64, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetRefund(ctx context.Context, principal string) (*Refund, error) {
	var refund Refund
	query := r.db.Rebind("SELECT principal, amount, updated_at FROM refunds WHERE principal = ?")
	err := r.db.GetContext(ctx, &refund, query, principal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *postgresRepository) CreditRefund(ctx context.Context, credit *RefundCredit) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	credit.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO refund_credits (contract_id, principal, amount, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contract_id) DO NOTHING`),
		credit.ContractID, credit.Principal, credit.Amount, credit.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record refund credit: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if credit.Amount > 0 {
		if err := addRefund(ctx, tx, credit.Principal, credit.Amount); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit refund credit: %w", err)
	}
	return true, nil
}

func (r *postgresRepository) GetCredit(ctx context.Context, contractID uint64) (*RefundCredit, error) {
	var credit RefundCredit
	query := r.db.Rebind("SELECT contract_id, principal, amount, created_at FROM refund_credits WHERE contract_id = ?")
	err := r.db.GetContext(ctx, &credit, query, contractID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credit, nil
}

func (r *postgresRepository) AddRefund(ctx context.Context, principal string, amount uint64) error {
	return addRefund(ctx, r.db, principal, amount)
}

func addRefund(ctx context.Context, db sqlx.ExtContext, principal string, amount uint64) error {
	query := db.Rebind(`
		INSERT INTO refunds (principal, amount, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (principal) DO UPDATE SET
			amount = refunds.amount + excluded.amount,
			updated_at = excluded.updated_at`)
	_, err := db.ExecContext(ctx, query, principal, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add refund: %w", err)
	}
	return nil
}

func (r *postgresRepository) TakeRefund(ctx context.Context, principal string) (*Refund, error) {
	var refund Refund
	query := r.db.Rebind("DELETE FROM refunds WHERE principal = ? RETURNING principal, amount, updated_at")
	err := r.db.GetContext(ctx, &refund, query, principal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *postgresRepository) TotalPending(ctx context.Context) (uint64, error) {
	var total uint64
	err := r.db.GetContext(ctx, &total, "SELECT COALESCE(SUM(amount), 0) FROM refunds")
	return total, err
}
