package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const contractSequenceName = "contracts"

// Repository is the contract store. Token transitions are conditional updates so
// concurrent instances cannot sell or burn the same token twice.
type Repository interface {
	NextContractID(ctx context.Context) (uint64, error)
	CreateContract(ctx context.Context, c *Contract) (bool, error)
	GetContract(ctx context.Context, id uint64) (*Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)
	UpdateStatus(ctx context.Context, id uint64, from, to Status) (bool, error)
	SetRewardPerToken(ctx context.Context, id, reward uint64) error
	MarkClosed(ctx context.Context, id uint64, at time.Time) (bool, error)
	// UpdateContract applies fn to the locked row and saves it
	UpdateContract(ctx context.Context, id uint64, fn func(c *Contract) error) (*Contract, error)

	CountTokens(ctx context.Context, contractID uint64) (int64, error)
	CreateTokens(ctx context.Context, tokens []Token) error
	GetToken(ctx context.Context, contractID, index uint64) (*Token, error)
	ListTokens(ctx context.Context, contractID uint64) ([]Token, error)
	// ClaimToken reserves an unsold token for buyer while its contract is active
	ClaimToken(ctx context.Context, contractID, index uint64, buyer, paymentTx string, at time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, contractID, index uint64, buyer string) (bool, error)
	MarkRewardPaid(ctx context.Context, contractID, index uint64, buyer string, at time.Time) (bool, error)
	CompleteSale(ctx context.Context, contractID, index uint64, buyer, by string, at time.Time) (bool, error)
	BurnToken(ctx context.Context, contractID, index uint64, by string, at time.Time) (bool, error)
	BurnUnsold(ctx context.Context, contractID uint64, by string, at time.Time) (int64, error)
	ListStaleClaims(ctx context.Context, before time.Time) ([]Token, error)
	SoldValue(ctx context.Context, contractID uint64) (uint64, error)
}

// ContractFilter narrows ListContracts
type ContractFilter struct {
	Status *Status
	Closed *bool
	Limit  int
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates the contract tables and seeds the id sequence
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Contract{}, &Token{}, &contractSequence{}); err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&contractSequence{Name: contractSequenceName, Value: 0}).Error
}

func (r *gormRepository) NextContractID(ctx context.Context) (uint64, error) {
	var next uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&contractSequence{}).
			Where("name = ?", contractSequenceName).
			Update("value", gorm.Expr("value + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("contract sequence is not initialised")
		}
		var seq contractSequence
		if err := tx.First(&seq, "name = ?", contractSequenceName).Error; err != nil {
			return err
		}
		next = seq.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate contract id: %w", err)
	}
	return next, nil
}

func (r *gormRepository) CreateContract(ctx context.Context, c *Contract) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create contract: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) GetContract(ctx context.Context, id uint64) (*Contract, error) {
	var c Contract
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}

func (r *gormRepository) ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error) {
	query := r.db.WithContext(ctx).Model(&Contract{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Closed != nil {
		query = query.Where("closed = ?", *filter.Closed)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var contracts []Contract
	if err := query.Order("id").Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return contracts, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, id uint64, from, to Status) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Contract{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update contract status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) SetRewardPerToken(ctx context.Context, id, reward uint64) error {
	return r.db.WithContext(ctx).Model(&Contract{}).
		Where("id = ?", id).
		Update("reward_per_token", reward).Error
}

func (r *gormRepository) MarkClosed(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Contract{}).
		Where("id = ? AND closed = ?", id, false).
		Updates(map[string]interface{}{
			"closed":     true,
			"status":     StatusClosed,
			"closed_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close contract: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) UpdateContract(ctx context.Context, id uint64, fn func(c *Contract) error) (*Contract, error) {
	var updated Contract
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&updated, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrContractNotFound
			}
			return err
		}
		if err := fn(&updated); err != nil {
			return err
		}
		return tx.Save(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *gormRepository) CountTokens(ctx context.Context, contractID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Token{}).Where("contract_id = ?", contractID).Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateTokens(ctx context.Context, tokens []Token) error {
	if len(tokens) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(tokens, 200).Error
	if err != nil {
		return fmt.Errorf("failed to mint tokens: %w", err)
	}
	return nil
}

func (r *gormRepository) GetToken(ctx context.Context, contractID, index uint64) (*Token, error) {
	var t Token
	err := r.db.WithContext(ctx).First(&t, "contract_id = ? AND idx = ?", contractID, index).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (r *gormRepository) ListTokens(ctx context.Context, contractID uint64) ([]Token, error) {
	var tokens []Token
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("idx").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

func (r *gormRepository) ClaimToken(ctx context.Context, contractID, index uint64, buyer, paymentTx string, at time.Time) (bool, error) {
	active := r.db.Model(&Contract{}).Select("id").Where("id = ? AND status = ?", contractID, StatusActive)
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND idx = ?", contractID, index).
		Where("is_burned = ? AND transferred_at IS NULL AND pending_buyer IS NULL", false).
		Where("contract_id IN (?)", active).
		Updates(map[string]interface{}{
			"pending_buyer": buyer,
			"claimed_at":    at,
			"payment_tx":    paymentTx,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ReleaseClaim(ctx context.Context, contractID, index uint64, buyer string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND idx = ?", contractID, index).
		Where("pending_buyer = ? AND reward_paid_at IS NULL", buyer).
		Updates(map[string]interface{}{
			"pending_buyer": nil,
			"claimed_at":    nil,
			"payment_tx":    nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release token claim: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkRewardPaid(ctx context.Context, contractID, index uint64, buyer string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND idx = ? AND pending_buyer = ?", contractID, index, buyer).
		Where("reward_paid_at IS NULL").
		Update("reward_paid_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark reward paid: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) CompleteSale(ctx context.Context, contractID, index uint64, buyer, by string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND idx = ? AND pending_buyer = ?", contractID, index, buyer).
		Where("transferred_at IS NULL AND is_burned = ?", false).
		Updates(map[string]interface{}{
			"owner":          buyer,
			"transferred_at": at,
			"transferred_by": by,
			"reward_paid_at": gorm.Expr("COALESCE(reward_paid_at, ?)", at),
			"pending_buyer":  nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete token sale: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) BurnToken(ctx context.Context, contractID, index uint64, by string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND idx = ? AND is_burned = ?", contractID, index, false).
		Updates(map[string]interface{}{
			"is_burned": true,
			"owner":     nil,
			"burned_at": at,
			"burned_by": by,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to burn token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) BurnUnsold(ctx context.Context, contractID uint64, by string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Token{}).
		Where("contract_id = ? AND is_burned = ?", contractID, false).
		Where("transferred_at IS NULL AND pending_buyer IS NULL").
		Updates(map[string]interface{}{
			"is_burned": true,
			"owner":     nil,
			"burned_at": at,
			"burned_by": by,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to burn unsold tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *gormRepository) ListStaleClaims(ctx context.Context, before time.Time) ([]Token, error) {
	var tokens []Token
	err := r.db.WithContext(ctx).
		Where("pending_buyer IS NOT NULL AND claimed_at < ?", before).
		Order("contract_id, idx").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale claims: %w", err)
	}
	return tokens, nil
}

func (r *gormRepository) SoldValue(ctx context.Context, contractID uint64) (uint64, error) {
	var total uint64
	err := r.db.WithContext(ctx).Model(&Token{}).
		Select("COALESCE(SUM(value), 0)").
		Where("contract_id = ? AND transferred_at IS NOT NULL", contractID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum sold value: %w", err)
	}
	return total, nil
}
