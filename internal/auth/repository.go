package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	HasRole(ctx context.Context, principal string, role Role) (bool, error)
	GrantRole(ctx context.Context, grant *PrincipalRole) error
	RevokeRole(ctx context.Context, principal string, role Role) error
	ListByRole(ctx context.Context, role Role) ([]string, error)

	SaveAgency(ctx context.Context, agency *Agency) error
	GetAgency(ctx context.Context, wallet string) (*Agency, error)
	DeleteAgency(ctx context.Context, wallet string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates the role and agency tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&PrincipalRole{}, &Agency{})
}

func (r *gormRepository) HasRole(ctx context.Context, principal string, role Role) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PrincipalRole{}).
		Where("principal = ? AND role = ?", principal, role).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) GrantRole(ctx context.Context, grant *PrincipalRole) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant).Error
}

func (r *gormRepository) RevokeRole(ctx context.Context, principal string, role Role) error {
	return r.db.WithContext(ctx).
		Where("principal = ? AND role = ?", principal, role).
		Delete(&PrincipalRole{}).Error
}

func (r *gormRepository) ListByRole(ctx context.Context, role Role) ([]string, error) {
	var principals []string
	err := r.db.WithContext(ctx).Model(&PrincipalRole{}).
		Where("role = ?", role).
		Order("principal").
		Pluck("principal", &principals).Error
	return principals, err
}

func (r *gormRepository) SaveAgency(ctx context.Context, agency *Agency) error {
	return r.db.WithContext(ctx).Save(agency).Error
}

func (r *gormRepository) GetAgency(ctx context.Context, wallet string) (*Agency, error) {
	var agency Agency
	err := r.db.WithContext(ctx).First(&agency, "wallet = ?", wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agency: %w", err)
	}
	return &agency, nil
}

func (r *gormRepository) DeleteAgency(ctx context.Context, wallet string) error {
	return r.db.WithContext(ctx).Delete(&Agency{}, "wallet = ?", wallet).Error
}
