package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/events"
	"deferred-estate/settlement-backend/internal/ledger"
)

// BuyToken sells a token to req.Buyer on behalf of the marketplace.
// The token is claimed with a conditional update so concurrent buyers of the same
// token cannot both succeed, and no claim lands once closing started; the reward is
// paid before ownership moves.
func (s *service) BuyToken(ctx context.Context, operator string, req BuyTokenRequest) (*Token, error) {
	started := time.Now()
	if strings.TrimSpace(req.Buyer) == "" {
		return nil, fmt.Errorf("%w: buyer is required", ErrInvalidBuyer)
	}

	c, err := s.getContract(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if c.Closed {
		return nil, ErrContractClosed
	}
	if c.Status != StatusActive {
		return nil, ErrContractNotActive
	}

	token, err := s.repo.GetToken(ctx, req.ContractID, req.Index)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenNotFound
	}
	if token.Operator != operator {
		return nil, fmt.Errorf("%w: %s is not the token operator", ErrUnauthorized, operator)
	}
	if err := tokenStateError(token); err != nil {
		return nil, err
	}

	claimed, err := s.repo.ClaimToken(ctx, req.ContractID, req.Index, req.Buyer, req.PaymentTx, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, s.lostClaim(ctx, req.ContractID, req.Index)
	}

	if err := s.deps.Rewards.Pay(ctx, req.ContractID, token.Reward, ledger.NewAccount(req.Buyer)); err != nil {
		s.deps.Metrics.ObserveSaga("buy", "failed", started)
		if errors.Is(err, ledger.ErrOutcomeUnknown) {
			// the pool is debited for this reward; recovery completes the sale without paying again
			if _, markErr := s.repo.MarkRewardPaid(ctx, req.ContractID, req.Index, req.Buyer, s.now()); markErr != nil {
				s.logger.Error("Failed to mark reward of uncertain payout",
					zap.Uint64("contract_id", req.ContractID),
					zap.Uint64("index", req.Index),
					zap.Error(markErr))
			}
			s.logger.Warn("Reward payout outcome unknown, token claim kept",
				zap.Uint64("contract_id", req.ContractID),
				zap.Uint64("index", req.Index),
				zap.String("buyer", req.Buyer),
				zap.Error(err))
			return nil, fmt.Errorf("failed to pay buyer reward: %w", err)
		}
		if _, releaseErr := s.repo.ReleaseClaim(ctx, req.ContractID, req.Index, req.Buyer); releaseErr != nil {
			s.logger.Error("Failed to release token claim after reward failure",
				zap.Uint64("contract_id", req.ContractID),
				zap.Uint64("index", req.Index),
				zap.Error(releaseErr))
		}
		return nil, fmt.Errorf("failed to pay buyer reward: %w", err)
	}
	if _, err := s.repo.MarkRewardPaid(ctx, req.ContractID, req.Index, req.Buyer, s.now()); err != nil {
		// the sale below records the payment too; only a crash before it loses the mark
		s.logger.Error("Reward paid but not recorded",
			zap.Uint64("contract_id", req.ContractID),
			zap.Uint64("index", req.Index),
			zap.String("buyer", req.Buyer),
			zap.Error(err))
	}

	sold, err := s.finishSale(ctx, c, token, req.Buyer, operator)
	if err != nil {
		s.deps.Metrics.ObserveSaga("buy", "failed", started)
		return nil, err
	}

	s.deps.Metrics.IncTokensSold()
	s.deps.Metrics.AddRewardsPaid(token.Reward)
	s.deps.Metrics.ObserveSaga("buy", "ok", started)
	s.logger.Info("Token sold",
		zap.Uint64("contract_id", req.ContractID),
		zap.Uint64("index", req.Index),
		zap.String("buyer", req.Buyer),
		zap.Uint64("reward", token.Reward))

	return sold, nil
}

// finishSale moves ownership to buyer and burns the token when a contract buyer paid it off
func (s *service) finishSale(ctx context.Context, c *Contract, token *Token, buyer, by string) (*Token, error) {
	completed, err := s.repo.CompleteSale(ctx, token.ContractID, token.Index, buyer, by, s.now())
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, fmt.Errorf("%w: claim of token %d was lost", ErrTokenSaleInProgress, token.Index)
	}

	index := token.Index
	previousOwner := ""
	if token.Owner != nil {
		previousOwner = *token.Owner
	}
	s.publish(ctx, events.TokenSold, c.ID, &index, map[string]interface{}{
		"buyer":          buyer,
		"previous_owner": previousOwner,
		"value":          token.Value,
		"reward":         token.Reward,
	})

	if c.Buyers.Data().Contains(buyer) {
		burned, err := s.repo.BurnToken(ctx, token.ContractID, token.Index, buyer, s.now())
		if err != nil {
			s.logger.Error("Installment paid but token not burned",
				zap.Uint64("contract_id", c.ID),
				zap.Uint64("index", index),
				zap.Error(err))
		} else if burned {
			s.publish(ctx, events.TokenBurned, c.ID, &index, map[string]interface{}{"by": buyer})
		}
	}

	updated, err := s.repo.GetToken(ctx, token.ContractID, token.Index)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecoverClaims settles token claims left behind by interrupted sales.
// A claim whose reward was paid is completed, any other claim is released.
func (s *service) RecoverClaims(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := s.repo.ListStaleClaims(ctx, s.now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		token := &stale[i]
		buyer := *token.PendingBuyer
		if token.RewardPaidAt == nil {
			released, err := s.repo.ReleaseClaim(ctx, token.ContractID, token.Index, buyer)
			if err != nil {
				s.logger.Error("Failed to release stale claim",
					zap.Uint64("contract_id", token.ContractID),
					zap.Uint64("index", token.Index),
					zap.Error(err))
				continue
			}
			if released {
				recovered++
				s.logger.Warn("Released stale token claim",
					zap.Uint64("contract_id", token.ContractID),
					zap.Uint64("index", token.Index),
					zap.String("buyer", buyer))
			}
			continue
		}

		c, err := s.getContract(ctx, token.ContractID)
		if err != nil {
			s.logger.Error("Failed to load contract of stale claim",
				zap.Uint64("contract_id", token.ContractID),
				zap.Error(err))
			continue
		}
		if _, err := s.finishSale(ctx, c, token, buyer, token.Operator); err != nil {
			s.logger.Error("Failed to complete stale sale",
				zap.Uint64("contract_id", token.ContractID),
				zap.Uint64("index", token.Index),
				zap.Error(err))
			continue
		}
		recovered++
		s.deps.Metrics.IncTokensSold()
		s.logger.Info("Completed interrupted token sale",
			zap.Uint64("contract_id", token.ContractID),
			zap.Uint64("index", token.Index),
			zap.String("buyer", buyer))
	}
	return recovered, nil
}

// lostClaim explains why a claim matched no row
func (s *service) lostClaim(ctx context.Context, contractID, index uint64) error {
	token, err := s.repo.GetToken(ctx, contractID, index)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrTokenNotFound
	}
	if err := tokenStateError(token); err != nil {
		return err
	}
	c, err := s.getContract(ctx, contractID)
	if err != nil {
		return err
	}
	if c.Closed {
		return ErrContractClosed
	}
	if c.Status != StatusActive {
		return ErrContractNotActive
	}
	return ErrTokenSaleInProgress
}

func tokenStateError(t *Token) error {
	switch {
	case t.IsBurned:
		return ErrTokenBurned
	case t.Sold():
		return ErrTokenAlreadySold
	case t.PendingBuyer != nil:
		return ErrTokenSaleInProgress
	}
	return nil
}
