package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"deferred-estate/settlement-backend/pkg/workflows"
)

// purchaseFlow lists the journal transitions; settled, refunded and failed are terminal
var purchaseFlow = workflows.NewStateMachine(map[PurchaseStatus][]PurchaseStatus{
	PurchasePending: {PurchasePaid, PurchaseFailed},
	PurchasePaid:    {PurchaseSold, PurchaseRefunded},
	PurchaseSold:    {PurchaseSettled},
})

type Repository interface {
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, id string) (*Purchase, error)
	// Transition moves the purchase from one status to another; reports whether it moved
	Transition(ctx context.Context, id string, from, to PurchaseStatus, fields map[string]interface{}) (bool, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	ListOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]Purchase, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates the purchase journal
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Purchase{})
}

func (r *gormRepository) CreatePurchase(ctx context.Context, p *Purchase) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	return nil
}

func (r *gormRepository) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	var p Purchase
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &p, nil
}

func (r *gormRepository) Transition(ctx context.Context, id string, from, to PurchaseStatus, fields map[string]interface{}) (bool, error) {
	if err := purchaseFlow.Check(from, to); err != nil {
		return false, err
	}
	updates := withUpdatedAt(fields)
	updates["status"] = to
	res := r.db.WithContext(ctx).Model(&Purchase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move purchase to %s: %w", to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&Purchase{}).Where("id = ?", id).Updates(withUpdatedAt(fields)).Error
}

func withUpdatedAt(fields map[string]interface{}) map[string]interface{} {
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}

func (r *gormRepository) ListOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]Purchase, error) {
	var purchases []Purchase
	q := r.db.WithContext(ctx).
		Where("status IN ?", []PurchaseStatus{PurchasePending, PurchasePaid, PurchaseSold}).
		Where("updated_at < ?", updatedBefore).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("failed to list open purchases: %w", err)
	}
	return purchases, nil
}
