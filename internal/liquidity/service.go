package liquidity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/ledger"
)

// Service is the liquidity pool. It receives settled deposits and the marketplace
// interest, and pays pending refunds on request.
type Service interface {
	// CreditRefund records a pending refund for owner once per contract
	CreditRefund(ctx context.Context, contractID uint64, owner string, amount uint64) error
	WithdrawRefund(ctx context.Context, owner string, subaccount *ledger.Subaccount) (uint64, error)
	GetRefund(ctx context.Context, owner string) (uint64, error)
	Balance(ctx context.Context) (uint64, error)
	// FreeBalance is the wallet balance not owed to pending refunds
	FreeBalance(ctx context.Context) (uint64, error)
	Account() ledger.Account
}

type poolService struct {
	repo    Repository
	ledger  ledger.Ledger
	account ledger.Account
	logger  *zap.Logger
}

func NewService(repo Repository, l ledger.Ledger, principal string, logger *zap.Logger) Service {
	return &poolService{
		repo:    repo,
		ledger:  l,
		account: ledger.NewAccount(principal),
		logger:  logger,
	}
}

func (s *poolService) Account() ledger.Account {
	return s.account
}

func (s *poolService) CreditRefund(ctx context.Context, contractID uint64, owner string, amount uint64) error {
	applied, err := s.repo.CreditRefund(ctx, &RefundCredit{
		ContractID: contractID,
		Principal:  owner,
		Amount:     amount,
	})
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Debug("Refund already credited", zap.Uint64("contract_id", contractID))
		return nil
	}

	s.logger.Info("Refund credited",
		zap.Uint64("contract_id", contractID),
		zap.String("owner", owner),
		zap.Uint64("amount", amount))
	return nil
}

func (s *poolService) WithdrawRefund(ctx context.Context, owner string, subaccount *ledger.Subaccount) (uint64, error) {
	refund, err := s.repo.TakeRefund(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to claim refund: %w", err)
	}
	if refund == nil || refund.Amount == 0 {
		return 0, ErrNothingToWithdraw
	}

	to := ledger.NewAccount(owner)
	if subaccount != nil {
		to = ledger.WithSubaccount(owner, *subaccount)
	}

	if _, err := s.ledger.Transfer(ctx, s.account, to, refund.Amount); err != nil {
		if !ledger.Rejected(err) {
			// the refund may have been paid; it is not credited back
			s.logger.Error("Refund withdrawal outcome unknown",
				zap.String("owner", owner),
				zap.String("to", to.String()),
				zap.Uint64("amount", refund.Amount),
				zap.Error(err))
			return 0, fmt.Errorf("failed to transfer refund: %w: %w", ledger.ErrOutcomeUnknown, err)
		}
		if restoreErr := s.repo.AddRefund(ctx, owner, refund.Amount); restoreErr != nil {
			s.logger.Error("Failed to restore refund after rejected transfer",
				zap.String("owner", owner),
				zap.Uint64("amount", refund.Amount),
				zap.Error(restoreErr))
		}
		return 0, fmt.Errorf("failed to transfer refund: %w", err)
	}

	s.logger.Info("Refund withdrawn",
		zap.String("owner", owner),
		zap.String("to", to.String()),
		zap.Uint64("amount", refund.Amount))
	return refund.Amount, nil
}

func (s *poolService) GetRefund(ctx context.Context, owner string) (uint64, error) {
	refund, err := s.repo.GetRefund(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to get refund: %w", err)
	}
	if refund == nil {
		return 0, nil
	}
	return refund.Amount, nil
}

func (s *poolService) Balance(ctx context.Context) (uint64, error) {
	balance, err := s.ledger.BalanceOf(ctx, s.account)
	if err != nil {
		return 0, fmt.Errorf("failed to get liquidity pool balance: %w", err)
	}
	return balance, nil
}

func (s *poolService) FreeBalance(ctx context.Context) (uint64, error) {
	balance, err := s.Balance(ctx)
	if err != nil {
		return 0, err
	}
	pending, err := s.repo.TotalPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pending refunds: %w", err)
	}
	if pending >= balance {
		return 0, nil
	}
	return balance - pending, nil
}
