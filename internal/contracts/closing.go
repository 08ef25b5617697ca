package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/events"
	"deferred-estate/settlement-backend/internal/ledger"
)

// CloseContract ends an expired contract that did not sell out. The held deposit moves
// to the liquidity pool, the unsold part is credited back to the deposit buyer and
// unsold tokens are burned. Every step is keyed by the contract id.
func (s *service) CloseContract(ctx context.Context, caller string, id uint64) (*Contract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	custodian, err := s.deps.Roles.IsCustodian(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to check custodian role: %w", err)
	}
	if !custodian && (c.Agency == "" || c.Agency != caller) {
		return nil, ErrUnauthorized
	}
	return s.closeContract(ctx, c, caller)
}

func (s *service) closeContract(ctx context.Context, c *Contract, by string) (*Contract, error) {
	started := time.Now()
	if c.Closed {
		return nil, ErrContractClosed
	}
	expiration, err := c.ExpirationDate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContractExpiration, err)
	}
	if today(s.now()).Before(expiration) {
		return nil, fmt.Errorf("%w: expires %s", ErrContractNotExpired, c.Expiration)
	}

	tokens, err := s.repo.ListTokens(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if allSold(tokens) {
		if c.Status == StatusClosing {
			s.reopenSales(ctx, c)
		}
		return nil, ErrContractPaid
	}

	if err := s.fenceSales(ctx, c); err != nil {
		return nil, err
	}
	// sales may have landed between the first read and the fence
	tokens, err = s.repo.ListTokens(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if allSold(tokens) {
		s.reopenSales(ctx, c)
		return nil, ErrContractPaid
	}
	var soldFiat uint64
	for _, t := range tokens {
		if t.PendingBuyer != nil {
			return nil, fmt.Errorf("%w: token %d", ErrTokenSaleInProgress, t.Index)
		}
		if t.Sold() {
			soldFiat += t.Value
		}
	}

	settlement, err := s.settle(ctx, c, soldFiat)
	if err != nil {
		s.deps.Metrics.ObserveSaga("close", "failed", started)
		return nil, err
	}

	deposit := c.Deposit.Data()
	if settlement != nil && settlement.RefundAmount > 0 {
		owner := c.Buyers.Data().DepositAccount.Owner
		if err := s.deps.Refunds.CreditRefund(ctx, c.ID, owner, settlement.RefundAmount); err != nil {
			s.deps.Metrics.ObserveSaga("close", "failed", started)
			return nil, fmt.Errorf("failed to credit refund: %w", err)
		}
		s.deps.Metrics.AddRefundsCredited(settlement.RefundAmount)
		s.publish(ctx, events.RefundCredited, c.ID, nil, map[string]interface{}{
			"principal": owner,
			"amount":    settlement.RefundAmount,
		})
	}

	burned, err := s.repo.BurnUnsold(ctx, c.ID, by, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.deps.Mirror.CloseContract(ctx, c.ID); err != nil {
		s.deps.Metrics.ObserveSaga("close", "failed", started)
		return nil, fmt.Errorf("%w: %w", ErrMirrorFailed, err)
	}

	now := s.now()
	if _, err := s.repo.MarkClosed(ctx, c.ID, now); err != nil {
		return nil, err
	}
	c.Closed = true
	c.Status = StatusClosed
	c.ClosedAt = &now

	s.deps.Metrics.IncContractsClosed()
	s.deps.Metrics.ObserveSaga("close", "ok", started)
	s.publish(ctx, events.ContractClosed, c.ID, nil, map[string]interface{}{
		"sold_fiat":     soldFiat,
		"burned_tokens": burned,
	})
	s.logger.Info("Contract closed",
		zap.Uint64("contract_id", c.ID),
		zap.String("by", by),
		zap.Uint64("sold_fiat", soldFiat),
		zap.Uint64("deposit_icp", deposit.ValueICP),
		zap.Int64("burned_tokens", burned))

	return c, nil
}

// fenceSales moves an active contract to closing so no token can be claimed while the
// refund is computed. A contract left closing by an earlier attempt is resumed.
func (s *service) fenceSales(ctx context.Context, c *Contract) error {
	switch c.Status {
	case StatusClosing:
		return nil
	case StatusActive:
	default:
		return ErrContractNotActive
	}
	fenced, err := s.repo.UpdateStatus(ctx, c.ID, StatusActive, StatusClosing)
	if err != nil {
		return err
	}
	if !fenced {
		current, err := s.getContract(ctx, c.ID)
		if err != nil {
			return err
		}
		if current.Closed {
			return ErrContractClosed
		}
		if current.Status != StatusClosing {
			return ErrContractNotActive
		}
	}
	c.Status = StatusClosing
	return nil
}

// reopenSales lifts the fence of a contract that sold out before it could close
func (s *service) reopenSales(ctx context.Context, c *Contract) {
	reopened, err := s.repo.UpdateStatus(ctx, c.ID, StatusClosing, StatusActive)
	if err != nil {
		s.logger.Error("Failed to reopen sold out contract",
			zap.Uint64("contract_id", c.ID),
			zap.Error(err))
		return
	}
	if reopened {
		c.Status = StatusActive
	}
}

// settle moves the held deposit to the liquidity pool, checking first that the pool
// will be able to pay the refund out
func (s *service) settle(ctx context.Context, c *Contract, soldFiat uint64) (*escrow.Movement, error) {
	existing, err := s.deps.Escrow.GetSettlement(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == escrow.StatusCompleted {
			return existing, nil
		}
		return s.deps.Escrow.Settle(ctx, c.ID, s.deps.Refunds.Account(), existing.RefundAmount)
	}

	held, err := s.deps.Escrow.Held(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	fee, err := s.deps.Escrow.Fee(ctx)
	if err != nil {
		return nil, err
	}
	refund := escrow.RefundAmount(c.Deposit.Data(), soldFiat, held)
	if refund > 0 {
		free, err := s.deps.Refunds.FreeBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get liquidity pool balance: %w", err)
		}
		var incoming uint64
		if held > fee {
			incoming = held - fee
		}
		if free+incoming < refund+fee {
			return nil, &LiquidityPoolHasNotEnoughICPError{Required: refund + fee, Available: free + incoming}
		}
	}

	return s.deps.Escrow.Settle(ctx, c.ID, s.deps.Refunds.Account(), refund)
}

// CloseExpired closes every open contract past its expiration that did not sell out
func (s *service) CloseExpired(ctx context.Context) (int, error) {
	closedFilter := false
	open, err := s.repo.ListContracts(ctx, ContractFilter{Closed: &closedFilter})
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range open {
		c := &open[i]
		expiration, err := c.ExpirationDate()
		if err != nil || today(s.now()).Before(expiration) {
			continue
		}
		if _, err := s.closeContract(ctx, c, s.deps.Minter); err != nil {
			if errors.Is(err, ErrContractPaid) {
				continue
			}
			s.logger.Warn("Failed to close expired contract",
				zap.Uint64("contract_id", c.ID),
				zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// WithdrawDepositShare pays a seller their quota of the deposit once every token is sold
func (s *service) WithdrawDepositShare(ctx context.Context, caller string, id uint64, subaccount *ledger.Subaccount) (*escrow.Movement, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	seller, ok := c.Seller(caller)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a seller", ErrUnauthorized, caller)
	}
	if c.Closed {
		return nil, ErrContractClosed
	}
	if c.Status != StatusActive {
		return nil, ErrContractNotActive
	}

	tokens, err := s.repo.ListTokens(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allSold(tokens) {
		return nil, ErrContractNotPaid
	}

	share, ok := escrow.SellerShare(c.Deposit.Data(), seller.Quota)
	if !ok {
		return nil, fmt.Errorf("%w: seller share overflows", ErrInvalidDeposit)
	}
	to := ledger.NewAccount(caller)
	if subaccount != nil {
		to = ledger.WithSubaccount(caller, *subaccount)
	}

	movement, err := s.deps.Escrow.Distribute(ctx, id, caller, share, to)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.AddDepositDistributed(movement.Sent())
	s.publish(ctx, events.DepositWithdrawn, id, nil, map[string]interface{}{
		"seller": caller,
		"amount": movement.Sent(),
	})
	return movement, nil
}

func allSold(tokens []Token) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !t.Sold() {
			return false
		}
	}
	return true
}
