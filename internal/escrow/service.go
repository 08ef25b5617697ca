package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/ledger"
)

// Service holds buyer deposits in one ledger subaccount per contract
type Service interface {
	Account(contractID uint64) ledger.Account
	// Spender is the account buyers approve for deposit pulls
	Spender() ledger.Account
	Fee(ctx context.Context) (uint64, error)
	// Collect pulls the deposit from the buyer allowance. Repeated calls return the recorded deposit.
	Collect(ctx context.Context, contractID uint64, from ledger.Account, amount uint64) (*Movement, error)
	// Distribute sends share minus fee to a seller, once per seller
	Distribute(ctx context.Context, contractID uint64, seller string, share uint64, to ledger.Account) (*Movement, error)
	// Settle moves everything held to the liquidity pool once, recording the refund owed
	Settle(ctx context.Context, contractID uint64, to ledger.Account, refund uint64) (*Movement, error)
	GetSettlement(ctx context.Context, contractID uint64) (*Movement, error)
	Held(ctx context.Context, contractID uint64) (uint64, error)
	Movements(ctx context.Context, contractID uint64) ([]Movement, error)
}

type service struct {
	repo      Repository
	ledger    ledger.Ledger
	principal string
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, l ledger.Ledger, principal string, logger *zap.Logger) Service {
	return &service{
		repo:      repo,
		ledger:    l,
		principal: principal,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *service) Account(contractID uint64) ledger.Account {
	return ledger.WithSubaccount(s.principal, ledger.SubaccountFromID(contractID))
}

func (s *service) Spender() ledger.Account {
	return ledger.NewAccount(s.principal)
}

func (s *service) Fee(ctx context.Context) (uint64, error) {
	fee, err := s.ledger.Fee(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get ledger fee: %w", err)
	}
	return fee, nil
}

func (s *service) Collect(ctx context.Context, contractID uint64, from ledger.Account, amount uint64) (*Movement, error) {
	if amount == 0 {
		return nil, nil
	}
	escrowAccount := s.Account(contractID)

	existing, err := s.repo.GetMovement(ctx, contractID, depositKey())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusCompleted {
			return existing, nil
		}
		settled, err := s.reconcile(ctx, existing, func(balance uint64) bool { return balance >= existing.Amount })
		if err != nil || settled {
			return existing, err
		}
	}

	fee, err := s.Fee(ctx)
	if err != nil {
		return nil, err
	}
	allowance, err := s.ledger.Allowance(ctx, from, s.Spender())
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit allowance: %w", err)
	}
	if allowance.Expired(s.now()) {
		return nil, ErrAllowanceExpired
	}
	if required := amount + fee; allowance.Amount < required {
		return nil, &AllowanceNotEnoughError{Required: required, Available: allowance.Amount}
	}

	movement := existing
	if movement == nil {
		movement = &Movement{
			ID:           uuid.New().String(),
			ContractID:   contractID,
			Key:          depositKey(),
			Kind:         MovementDeposit,
			Status:       StatusPending,
			Counterparty: from.String(),
			Amount:       amount,
			Fee:          fee,
		}
		created, err := s.repo.CreateMovement(ctx, movement)
		if err != nil {
			return nil, err
		}
		if !created {
			return nil, fmt.Errorf("deposit for contract %d is already being collected", contractID)
		}
	}

	txID, err := s.ledger.TransferFrom(ctx, s.Spender(), from, escrowAccount, amount)
	if err != nil {
		s.abandon(ctx, movement, err)
		return nil, fmt.Errorf("%w: %w", ErrDepositRejected, err)
	}
	if err := s.repo.CompleteMovement(ctx, movement.ID, txID); err != nil {
		s.logger.Error("Deposit collected but journal not updated",
			zap.Uint64("contract_id", contractID),
			zap.Uint64("tx_id", txID),
			zap.Error(err))
	}
	movement.Status = StatusCompleted
	movement.TxID = &txID

	s.logger.Info("Deposit collected",
		zap.Uint64("contract_id", contractID),
		zap.String("from", from.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("tx_id", txID))

	return movement, nil
}

func (s *service) Distribute(ctx context.Context, contractID uint64, seller string, share uint64, to ledger.Account) (*Movement, error) {
	fee, err := s.Fee(ctx)
	if err != nil {
		return nil, err
	}
	if share <= fee {
		return nil, fmt.Errorf("%w: share %d does not cover fee %d", ErrInvalidTransferAmount, share, fee)
	}
	held, err := s.Held(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if held < share {
		return nil, fmt.Errorf("%w: share %d, held %d", ErrNotEnoughHeld, share, held)
	}

	movement := &Movement{
		ID:           uuid.New().String(),
		ContractID:   contractID,
		Key:          distributionKey(seller),
		Kind:         MovementDistribution,
		Status:       StatusPending,
		Counterparty: to.String(),
		Amount:       share,
		Fee:          fee,
	}
	withdrawal := &Withdrawal{
		ContractID: contractID,
		Seller:     seller,
		MovementID: movement.ID,
		Amount:     share,
		CreatedAt:  s.now().UTC(),
	}
	claimed, err := s.repo.ClaimWithdrawal(ctx, withdrawal, movement)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyWithdrawn
	}

	txID, err := s.ledger.Transfer(ctx, s.Account(contractID), to, share-fee)
	if err != nil {
		var transferErr *ledger.TransferError
		if errors.As(err, &transferErr) {
			if releaseErr := s.repo.ReleaseWithdrawal(ctx, contractID, seller, movement.ID); releaseErr != nil {
				s.logger.Error("Failed to release withdrawal claim",
					zap.Uint64("contract_id", contractID),
					zap.String("seller", seller),
					zap.Error(releaseErr))
			}
		} else {
			s.logger.Warn("Distribution outcome unknown, claim kept",
				zap.Uint64("contract_id", contractID),
				zap.String("seller", seller),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to transfer deposit share: %w", err)
	}
	if err := s.repo.CompleteMovement(ctx, movement.ID, txID); err != nil {
		s.logger.Error("Deposit share sent but journal not updated",
			zap.Uint64("contract_id", contractID),
			zap.Uint64("tx_id", txID),
			zap.Error(err))
	}
	movement.Status = StatusCompleted
	movement.TxID = &txID

	s.logger.Info("Deposit share distributed",
		zap.Uint64("contract_id", contractID),
		zap.String("seller", seller),
		zap.Uint64("amount", share-fee),
		zap.Uint64("tx_id", txID))

	return movement, nil
}

func (s *service) Settle(ctx context.Context, contractID uint64, to ledger.Account, refund uint64) (*Movement, error) {
	existing, err := s.repo.GetMovement(ctx, contractID, settlementKey())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusCompleted {
			return existing, nil
		}
		// the settlement drains the subaccount, so a balance below the amount means it went through
		settled, err := s.reconcile(ctx, existing, func(balance uint64) bool { return balance < existing.Amount })
		if err != nil || settled {
			return existing, err
		}
		return s.sendSettlement(ctx, existing)
	}

	held, err := s.Held(ctx, contractID)
	if err != nil {
		return nil, err
	}
	fee, err := s.Fee(ctx)
	if err != nil {
		return nil, err
	}

	movement := &Movement{
		ID:           uuid.New().String(),
		ContractID:   contractID,
		Key:          settlementKey(),
		Kind:         MovementSettlement,
		Status:       StatusPending,
		Counterparty: to.String(),
		Amount:       held,
		Fee:          fee,
		RefundAmount: refund,
	}
	if held <= fee {
		// nothing worth moving
		movement.Status = StatusCompleted
	}
	created, err := s.repo.CreateMovement(ctx, movement)
	if err != nil {
		return nil, err
	}
	if !created {
		stored, err := s.repo.GetMovement(ctx, contractID, settlementKey())
		if err != nil || stored == nil {
			return nil, fmt.Errorf("failed to read concurrent settlement: %w", err)
		}
		return stored, nil
	}
	if movement.Status == StatusCompleted {
		return movement, nil
	}
	return s.sendSettlement(ctx, movement)
}

func (s *service) sendSettlement(ctx context.Context, movement *Movement) (*Movement, error) {
	to, err := ledger.ParseAccount(movement.Counterparty)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement counterparty: %w", err)
	}
	txID, err := s.ledger.Transfer(ctx, s.Account(movement.ContractID), to, movement.Sent())
	if err != nil {
		s.abandon(ctx, movement, err)
		return nil, fmt.Errorf("failed to transfer escrow to liquidity pool: %w", err)
	}
	if err := s.repo.CompleteMovement(ctx, movement.ID, txID); err != nil {
		s.logger.Error("Escrow settled but journal not updated",
			zap.Uint64("contract_id", movement.ContractID),
			zap.Uint64("tx_id", txID),
			zap.Error(err))
	}
	movement.Status = StatusCompleted
	movement.TxID = &txID

	s.logger.Info("Escrow settled",
		zap.Uint64("contract_id", movement.ContractID),
		zap.String("to", movement.Counterparty),
		zap.Uint64("amount", movement.Sent()),
		zap.Uint64("refund", movement.RefundAmount))

	return movement, nil
}

// reconcile resolves a pending movement against the escrow subaccount balance.
// It reports whether the transfer is known to have happened.
func (s *service) reconcile(ctx context.Context, m *Movement, happened func(balance uint64) bool) (bool, error) {
	balance, err := s.ledger.BalanceOf(ctx, s.Account(m.ContractID))
	if err != nil {
		return false, fmt.Errorf("failed to get escrow balance: %w", err)
	}
	if !happened(balance) {
		return false, nil
	}
	if err := s.repo.CompleteMovement(ctx, m.ID, 0); err != nil {
		return false, fmt.Errorf("failed to complete reconciled movement: %w", err)
	}
	m.Status = StatusCompleted
	s.logger.Info("Reconciled pending escrow movement",
		zap.Uint64("contract_id", m.ContractID),
		zap.String("kind", string(m.Kind)),
		zap.Uint64("balance", balance))
	return true, nil
}

// abandon drops a pending movement after a rejected transfer.
// When the ledger could not be reached the outcome is unknown and the movement stays pending.
func (s *service) abandon(ctx context.Context, m *Movement, cause error) {
	if !ledger.Rejected(cause) {
		s.logger.Warn("Escrow transfer outcome unknown, movement kept pending",
			zap.Uint64("contract_id", m.ContractID),
			zap.String("kind", string(m.Kind)),
			zap.Error(cause))
		return
	}
	if err := s.repo.DeleteMovement(ctx, m.ID); err != nil {
		s.logger.Error("Failed to drop rejected escrow movement",
			zap.String("movement_id", m.ID),
			zap.Error(err))
	}
}

func (s *service) GetSettlement(ctx context.Context, contractID uint64) (*Movement, error) {
	return s.repo.GetMovement(ctx, contractID, settlementKey())
}

func (s *service) Held(ctx context.Context, contractID uint64) (uint64, error) {
	movements, err := s.repo.ListMovements(ctx, contractID)
	if err != nil {
		return 0, fmt.Errorf("failed to list escrow movements: %w", err)
	}
	var in, out uint64
	for _, m := range movements {
		switch {
		case m.Kind == MovementDeposit && m.Status == StatusCompleted:
			in += m.Amount
		case m.Kind != MovementDeposit:
			out += m.Amount
		}
	}
	if out >= in {
		return 0, nil
	}
	return in - out, nil
}

func (s *service) Movements(ctx context.Context, contractID uint64) ([]Movement, error) {
	return s.repo.ListMovements(ctx, contractID)
}
