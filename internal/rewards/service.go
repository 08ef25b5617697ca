package rewards

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/ledger"
)

// Service is the reward pool. Balances change only through these operations.
type Service interface {
	// Reserve returns the total reserved for the contract, creating the pool on first call
	Reserve(ctx context.Context, contractID, installments uint64) (uint64, error)
	ReservePool(ctx context.Context, contractID uint64, from ledger.Account, amount uint64) (uint64, error)
	BalanceOf(ctx context.Context, contractID uint64) (uint64, error)
	// Pay debits the pool and transfers amount. The pool is restored only when the
	// ledger rejects the transfer; otherwise the error wraps ledger.ErrOutcomeUnknown.
	Pay(ctx context.Context, contractID, amount uint64, to ledger.Account) error
	AvailableLiquidity(ctx context.Context) (uint64, error)
	Account() ledger.Account
}

type poolService struct {
	repo       Repository
	ledger     ledger.Ledger
	calculator *Calculator
	account    ledger.Account
	logger     *zap.Logger
	// reservations read and consume the shared free liquidity
	reserveMu sync.Mutex
}

func NewService(repo Repository, l ledger.Ledger, calculator *Calculator, principal string, logger *zap.Logger) Service {
	return &poolService{
		repo:       repo,
		ledger:     l,
		calculator: calculator,
		account:    ledger.NewAccount(principal),
		logger:     logger,
	}
}

func (s *poolService) Account() ledger.Account {
	return s.account
}

func (s *poolService) Reserve(ctx context.Context, contractID, installments uint64) (uint64, error) {
	if installments == 0 {
		return 0, fmt.Errorf("%w: installments must be positive", ErrInvalidAmount)
	}

	s.reserveMu.Lock()
	defer s.reserveMu.Unlock()

	existing, err := s.repo.GetPool(ctx, contractID)
	if err != nil {
		return 0, fmt.Errorf("failed to get reward pool: %w", err)
	}
	if existing != nil {
		return existing.Balance, nil
	}

	fee, err := s.ledger.Fee(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get ledger fee: %w", err)
	}
	available, err := s.AvailableLiquidity(ctx)
	if err != nil {
		return 0, err
	}

	reward := s.calculator.Reward(available, 2*fee)
	hi, total := bits.Mul64(reward, installments)
	if hi != 0 || total > available {
		return 0, fmt.Errorf("%w: required %d, available %d", ErrNotEnoughTokens, total, available)
	}

	created, err := s.repo.CreatePool(ctx, &Pool{ContractID: contractID, Balance: total})
	if err != nil {
		return 0, err
	}
	if !created {
		// another instance reserved first
		pool, err := s.repo.GetPool(ctx, contractID)
		if err != nil || pool == nil {
			return 0, fmt.Errorf("failed to read concurrent reward pool: %w", err)
		}
		return pool.Balance, nil
	}
	s.calculator.RecordContract()

	s.logger.Info("Reward pool reserved",
		zap.Uint64("contract_id", contractID),
		zap.Uint64("reward_per_installment", reward),
		zap.Uint64("total", total))

	return total, nil
}

func (s *poolService) ReservePool(ctx context.Context, contractID uint64, from ledger.Account, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if _, err := s.ledger.TransferFrom(ctx, s.account, from, s.account, amount); err != nil {
		return 0, fmt.Errorf("failed to pull reward tokens: %w", err)
	}
	if err := s.repo.IncrementPool(ctx, contractID, amount); err != nil {
		s.logger.Error("Reward tokens received but pool not incremented",
			zap.Uint64("contract_id", contractID),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment reward pool: %w", err)
	}

	s.logger.Info("Reward pool topped up",
		zap.Uint64("contract_id", contractID),
		zap.String("from", from.String()),
		zap.Uint64("amount", amount))

	return s.BalanceOf(ctx, contractID)
}

func (s *poolService) BalanceOf(ctx context.Context, contractID uint64) (uint64, error) {
	pool, err := s.repo.GetPool(ctx, contractID)
	if err != nil {
		return 0, fmt.Errorf("failed to get reward pool: %w", err)
	}
	if pool == nil {
		return 0, ErrPoolNotFound
	}
	return pool.Balance, nil
}

func (s *poolService) Pay(ctx context.Context, contractID, amount uint64, to ledger.Account) error {
	if amount == 0 {
		return nil
	}

	ok, err := s.repo.DecrementPool(ctx, contractID, amount)
	if err != nil {
		return err
	}
	if !ok {
		pool, err := s.repo.GetPool(ctx, contractID)
		if err != nil {
			return fmt.Errorf("failed to get reward pool: %w", err)
		}
		if pool == nil {
			return ErrPoolNotFound
		}
		return fmt.Errorf("%w: required %d, available %d", ErrNotEnoughTokens, amount, pool.Balance)
	}

	if _, err := s.ledger.Transfer(ctx, s.account, to, amount); err != nil {
		if !ledger.Rejected(err) {
			// the payout may have landed; the pool stays debited
			s.logger.Warn("Reward payout outcome unknown",
				zap.Uint64("contract_id", contractID),
				zap.String("to", to.String()),
				zap.Uint64("amount", amount),
				zap.Error(err))
			return fmt.Errorf("failed to transfer reward: %w: %w", ledger.ErrOutcomeUnknown, err)
		}
		if restoreErr := s.repo.IncrementPool(ctx, contractID, amount); restoreErr != nil {
			s.logger.Error("Failed to restore reward pool after rejected payout",
				zap.Uint64("contract_id", contractID),
				zap.Uint64("amount", amount),
				zap.Error(restoreErr))
		}
		return fmt.Errorf("failed to transfer reward: %w", err)
	}

	s.logger.Info("Reward paid",
		zap.Uint64("contract_id", contractID),
		zap.String("to", to.String()),
		zap.Uint64("amount", amount))

	return nil
}

func (s *poolService) AvailableLiquidity(ctx context.Context) (uint64, error) {
	balance, err := s.ledger.BalanceOf(ctx, s.account)
	if err != nil {
		return 0, fmt.Errorf("failed to get reward wallet balance: %w", err)
	}
	reserved, err := s.repo.TotalReserved(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reserved rewards: %w", err)
	}
	if reserved >= balance {
		return 0, nil
	}
	return balance - reserved, nil
}
