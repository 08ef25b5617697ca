package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// CreateMovement inserts the movement unless one with the same key exists
	CreateMovement(ctx context.Context, m *Movement) (bool, error)
	GetMovement(ctx context.Context, contractID uint64, key string) (*Movement, error)
	ListMovements(ctx context.Context, contractID uint64) ([]Movement, error)
	CompleteMovement(ctx context.Context, id string, txID uint64) error
	DeleteMovement(ctx context.Context, id string) error
	// ClaimWithdrawal inserts the withdrawal and its pending movement atomically
	ClaimWithdrawal(ctx context.Context, w *Withdrawal, m *Movement) (bool, error)
	ReleaseWithdrawal(ctx context.Context, contractID uint64, seller, movementID string) error
	GetWithdrawal(ctx context.Context, contractID uint64, seller string) (*Withdrawal, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates the escrow journal tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Movement{}, &Withdrawal{})
}

func (r *gormRepository) CreateMovement(ctx context.Context, m *Movement) (bool, error) {
	return createMovement(r.db.WithContext(ctx), m)
}

func createMovement(db *gorm.DB, m *Movement) (bool, error) {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}, {Name: "movement_key"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record escrow movement: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) GetMovement(ctx context.Context, contractID uint64, key string) (*Movement, error) {
	var m Movement
	err := r.db.WithContext(ctx).First(&m, "contract_id = ? AND movement_key = ?", contractID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow movement: %w", err)
	}
	return &m, nil
}

func (r *gormRepository) ListMovements(ctx context.Context, contractID uint64) ([]Movement, error) {
	var movements []Movement
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at, id").
		Find(&movements).Error
	return movements, err
}

func (r *gormRepository) CompleteMovement(ctx context.Context, id string, txID uint64) error {
	return r.db.WithContext(ctx).Model(&Movement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusCompleted,
			"tx_id":      txID,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *gormRepository) DeleteMovement(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Movement{}, "id = ? AND status = ?", id, StatusPending).Error
}

func (r *gormRepository) ClaimWithdrawal(ctx context.Context, w *Withdrawal, m *Movement) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(w)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created, err := createMovement(tx, m)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("distribution movement for %s already recorded", w.Seller)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim withdrawal: %w", err)
	}
	return claimed, nil
}

func (r *gormRepository) ReleaseWithdrawal(ctx context.Context, contractID uint64, seller, movementID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Withdrawal{}, "contract_id = ? AND seller = ?", contractID, seller).Error; err != nil {
			return err
		}
		return tx.Delete(&Movement{}, "id = ? AND status = ?", movementID, StatusPending).Error
	})
}

func (r *gormRepository) GetWithdrawal(ctx context.Context, contractID uint64, seller string) (*Withdrawal, error) {
	var w Withdrawal
	err := r.db.WithContext(ctx).First(&w, "contract_id = ? AND seller = ?", contractID, seller).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}
