package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/internal/metrics"
)

// Contracts is the part of the contract service the marketplace drives
type Contracts interface {
	GetToken(ctx context.Context, id, index uint64) (*contracts.TokenWithContract, error)
	BuyToken(ctx context.Context, operator string, req contracts.BuyTokenRequest) (*contracts.Token, error)
}

// InterestSource yields the multiplier applied to contract buyers, e.g. 1.1
type InterestSource interface {
	InterestRate(ctx context.Context) (decimal.Decimal, error)
}

// LiquidityPool receives the buyer interest
type LiquidityPool interface {
	Account() ledger.Account
}

type Service interface {
	TokenPrice(ctx context.Context, caller string, contractID, index uint64) (*Quote, error)
	BuyToken(ctx context.Context, caller string, contractID, index uint64, subaccount *ledger.Subaccount) (*Purchase, error)
	GetPurchase(ctx context.Context, caller, id string) (*Purchase, error)
	// SettlePurchases finishes purchases left open for longer than olderThan
	SettlePurchases(ctx context.Context, olderThan time.Duration) (int, error)
	Account() ledger.Account
}

type Dependencies struct {
	Contracts Contracts
	Ledger    ledger.Ledger
	Rates     RateProvider
	Interest  InterestSource
	Liquidity LiquidityPool
	Metrics   metrics.SettlementMetrics
	Now       func() time.Time
}

type service struct {
	repo      Repository
	deps      Dependencies
	principal string
	logger    *zap.Logger
}

// NewService creates the marketplace; principal is also the token operator
func NewService(repo Repository, deps Dependencies, principal string, logger *zap.Logger) Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}
	return &service{
		repo:      repo,
		deps:      deps,
		principal: principal,
		logger:    logger,
	}
}

func (s *service) Account() ledger.Account {
	return ledger.NewAccount(s.principal)
}

func (s *service) purchaseAccount(p *Purchase) ledger.Account {
	return ledger.WithSubaccount(s.principal, p.Subaccount())
}

func (s *service) now() time.Time {
	return s.deps.Now().UTC()
}

func (s *service) TokenPrice(ctx context.Context, caller string, contractID, index uint64) (*Quote, error) {
	info, err := s.deps.Contracts.GetToken(ctx, contractID, index)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, caller, info)
}

func (s *service) quote(ctx context.Context, caller string, info *contracts.TokenWithContract) (*Quote, error) {
	token, c := &info.Token, &info.Contract
	if c.Closed {
		return nil, contracts.ErrContractClosed
	}
	if token.IsBurned {
		return nil, contracts.ErrTokenBurned
	}
	if token.Owner == nil {
		return nil, ErrTokenHasNoOwner
	}
	if caller != "" && *token.Owner == caller {
		return nil, ErrCallerAlreadyOwnsToken
	}

	rate, err := s.deps.Rates.Rate(ctx, c.Currency)
	if err != nil {
		return nil, err
	}
	price, err := Convert(token.Value, rate)
	if err != nil {
		return nil, err
	}
	if price == 0 {
		return nil, fmt.Errorf("%w: token %d of contract %d converts to zero", ErrRateUnavailable, token.Index, c.ID)
	}

	q := &Quote{
		ContractID:      c.ID,
		Index:           token.Index,
		Currency:        c.Currency,
		TokenValue:      token.Value,
		Rate:            rate.String(),
		Price:           price,
		IsContractBuyer: caller != "" && c.Buyers.Data().Contains(caller),
		IsFirstSale:     !token.Sold(),
		Owner:           *token.Owner,
	}
	if q.IsContractBuyer {
		multiplier, err := s.deps.Interest.InterestRate(ctx)
		if err != nil {
			return nil, err
		}
		withInterest := fromUint64(price).Mul(multiplier).Round(0)
		if withInterest.GreaterThan(fromUint64(price)) {
			q.Interest = withInterest.BigInt().Uint64() - price
		}
	}

	fee, err := s.deps.Ledger.Fee(ctx)
	if err != nil {
		return nil, err
	}
	// one fee for the pull, one per payout
	payouts := uint64(1)
	if q.Interest > 0 {
		payouts++
	}
	q.Fee = fee
	q.Fees = fee * (payouts + 1)
	q.Total = q.PriceWithInterest() + q.Fees
	return q, nil
}

func (s *service) BuyToken(ctx context.Context, caller string, contractID, index uint64, subaccount *ledger.Subaccount) (*Purchase, error) {
	started := time.Now()
	info, err := s.deps.Contracts.GetToken(ctx, contractID, index)
	if err != nil {
		return nil, err
	}
	if info.Token.Sold() {
		return nil, contracts.ErrTokenAlreadySold
	}
	q, err := s.quote(ctx, caller, info)
	if err != nil {
		return nil, err
	}

	buyerAccount := ledger.Account{Owner: caller, Subaccount: subaccount}
	allowance, err := s.deps.Ledger.Allowance(ctx, buyerAccount, s.Account())
	if err != nil {
		return nil, fmt.Errorf("failed to get payment allowance: %w", err)
	}
	if allowance.Expired(s.now()) {
		return nil, ErrAllowanceExpired
	}
	if allowance.Amount < q.Total {
		return nil, &AllowanceNotEnoughError{Required: q.Total, Available: allowance.Amount}
	}

	p := &Purchase{
		ID:           uuid.New().String(),
		ContractID:   contractID,
		Index:        index,
		Buyer:        caller,
		BuyerAccount: datatypes.NewJSONType(buyerAccount),
		Seller:       q.Owner,
		Price:        q.Price,
		Interest:     q.Interest,
		Fee:          q.Fee,
		Pulled:       q.Total - q.Fee,
		Status:       PurchasePending,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := s.repo.CreatePurchase(ctx, p); err != nil {
		return nil, err
	}

	if err := s.collect(ctx, p); err != nil {
		s.deps.Metrics.ObserveSaga("marketplace_buy", "rejected", started)
		return nil, err
	}

	_, buyErr := s.deps.Contracts.BuyToken(ctx, s.principal, contracts.BuyTokenRequest{
		ContractID: contractID,
		Index:      index,
		Buyer:      caller,
		PaymentTx:  p.PaymentRef,
	})
	if buyErr != nil {
		state, err := s.saleState(ctx, p)
		switch {
		case err != nil:
			s.logger.Error("Could not tell whether the sale went through; leaving purchase for the worker",
				zap.String("purchase_id", p.ID),
				zap.Error(err))
		case state == saleAbsent:
			if err := s.refund(ctx, p, buyErr); err != nil {
				s.logger.Error("Refund pending; the worker will retry", zap.String("purchase_id", p.ID), zap.Error(err))
			}
		case state == saleInFlight:
			s.note(ctx, p, buyErr)
		}
		if err != nil || state != saleCompleted {
			s.deps.Metrics.ObserveSaga("marketplace_buy", "failed", started)
			return nil, buyErr
		}
		s.logger.Warn("Sale reported an error but completed",
			zap.String("purchase_id", p.ID),
			zap.Error(buyErr))
	}

	if _, err := s.repo.Transition(ctx, p.ID, PurchasePaid, PurchaseSold, map[string]interface{}{"updated_at": s.now()}); err != nil {
		s.logger.Error("Token sold but purchase not updated", zap.String("purchase_id", p.ID), zap.Error(err))
	}
	p.Status = PurchaseSold
	if err := s.settle(ctx, p); err != nil {
		s.logger.Error("Token sold but payouts incomplete; the worker will retry",
			zap.String("purchase_id", p.ID),
			zap.Error(err))
	}
	s.deps.Metrics.ObserveSaga("marketplace_buy", "ok", started)

	s.logger.Info("Token bought on the marketplace",
		zap.String("purchase_id", p.ID),
		zap.Uint64("contract_id", contractID),
		zap.Uint64("index", index),
		zap.String("buyer", caller),
		zap.Uint64("price", p.Price),
		zap.Uint64("interest", p.Interest))
	return s.reload(ctx, p), nil
}

// collect pulls the quote total from the buyer into the purchase subaccount
func (s *service) collect(ctx context.Context, p *Purchase) error {
	txID, err := s.deps.Ledger.TransferFrom(ctx, s.Account(), p.BuyerAccount.Data(), s.purchaseAccount(p), p.Pulled)
	if err != nil {
		var callErr *ledger.CallError
		if !errors.As(err, &callErr) {
			s.fail(ctx, p, PurchasePending, PurchaseFailed, err)
			return fmt.Errorf("%w: %w", ErrPaymentRejected, err)
		}
		landed, balanceErr := s.holds(ctx, p, p.Pulled)
		if balanceErr != nil || !landed {
			// outcome unknown, the worker decides once the ledger answers
			s.note(ctx, p, err)
			return err
		}
		return s.markPaid(ctx, p, nil)
	}
	return s.markPaid(ctx, p, &txID)
}

func (s *service) markPaid(ctx context.Context, p *Purchase, txID *uint64) error {
	ref := "purchase:" + p.ID
	if txID != nil {
		ref = strconv.FormatUint(*txID, 10)
	}
	moved, err := s.repo.Transition(ctx, p.ID, PurchasePending, PurchasePaid, map[string]interface{}{
		"payment_tx":  txID,
		"payment_ref": ref,
		"updated_at":  s.now(),
	})
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("purchase %s is no longer pending", p.ID)
	}
	p.Status = PurchasePaid
	p.PaymentTx = txID
	p.PaymentRef = ref
	return nil
}

type saleState int

const (
	saleAbsent saleState = iota
	saleInFlight
	saleCompleted
)

// saleState inspects the token to learn whether this purchase's payment bought it
func (s *service) saleState(ctx context.Context, p *Purchase) (saleState, error) {
	info, err := s.deps.Contracts.GetToken(ctx, p.ContractID, p.Index)
	if err != nil {
		return saleAbsent, err
	}
	t := info.Token
	if t.PaymentTx == nil || *t.PaymentTx != p.PaymentRef {
		return saleAbsent, nil
	}
	if t.Sold() || t.RewardPaidAt != nil {
		return saleCompleted, nil
	}
	return saleInFlight, nil
}

// refund returns everything left in the purchase subaccount to the buyer
func (s *service) refund(ctx context.Context, p *Purchase, cause error) error {
	balance, err := s.deps.Ledger.BalanceOf(ctx, s.purchaseAccount(p))
	if err != nil {
		s.note(ctx, p, err)
		return err
	}
	fields := map[string]interface{}{"last_error": truncate(cause.Error()), "updated_at": s.now()}
	if balance > p.Fee {
		txID, err := s.deps.Ledger.Transfer(ctx, s.purchaseAccount(p), p.BuyerAccount.Data(), balance-p.Fee)
		if err != nil {
			s.logger.Error("Failed to refund buyer",
				zap.String("purchase_id", p.ID),
				zap.String("buyer", p.Buyer),
				zap.Uint64("amount", balance-p.Fee),
				zap.Error(err))
			s.note(ctx, p, err)
			return err
		}
		fields["refund_tx"] = txID
	}
	if _, err := s.repo.Transition(ctx, p.ID, p.Status, PurchaseRefunded, fields); err != nil {
		return err
	}
	s.logger.Info("Buyer refunded",
		zap.String("purchase_id", p.ID),
		zap.String("buyer", p.Buyer),
		zap.Uint64("balance", balance),
		zap.String("cause", cause.Error()))
	p.Status = PurchaseRefunded
	return nil
}

// settle forwards the price to the previous owner and the interest to the liquidity pool
func (s *service) settle(ctx context.Context, p *Purchase) error {
	remaining := p.Pulled - p.Price - p.Fee
	if p.SellerPaidAt == nil {
		txID, err := s.payout(ctx, p, ledger.NewAccount(p.Seller), p.Price, remaining)
		if err != nil {
			s.note(ctx, p, err)
			return err
		}
		now := s.now()
		if err := s.repo.Update(ctx, p.ID, map[string]interface{}{"seller_paid_at": now, "seller_tx": txID, "updated_at": now}); err != nil {
			return err
		}
		p.SellerPaidAt, p.SellerTx = &now, txID
	}
	if p.Interest > 0 && p.InterestPaidAt == nil {
		txID, err := s.payout(ctx, p, s.deps.Liquidity.Account(), p.Interest, remaining-p.Interest-p.Fee)
		if err != nil {
			s.note(ctx, p, err)
			return err
		}
		now := s.now()
		if err := s.repo.Update(ctx, p.ID, map[string]interface{}{"interest_paid_at": now, "interest_tx": txID, "updated_at": now}); err != nil {
			return err
		}
		p.InterestPaidAt, p.InterestTx = &now, txID
	}
	if _, err := s.repo.Transition(ctx, p.ID, PurchaseSold, PurchaseSettled, map[string]interface{}{"last_error": "", "updated_at": s.now()}); err != nil {
		return err
	}
	p.Status = PurchaseSettled
	return nil
}

// payout transfers amount unless the balance shows it already left. The tx id
// is nil when the transfer is only known from the balance.
func (s *service) payout(ctx context.Context, p *Purchase, to ledger.Account, amount, remainingAfter uint64) (*uint64, error) {
	balance, err := s.deps.Ledger.BalanceOf(ctx, s.purchaseAccount(p))
	if err != nil {
		return nil, err
	}
	if balance <= remainingAfter {
		return nil, nil
	}
	txID, err := s.deps.Ledger.Transfer(ctx, s.purchaseAccount(p), to, amount)
	if err != nil {
		return nil, fmt.Errorf("payout of %d to %s: %w", amount, to, err)
	}
	return &txID, nil
}

func (s *service) holds(ctx context.Context, p *Purchase, amount uint64) (bool, error) {
	balance, err := s.deps.Ledger.BalanceOf(ctx, s.purchaseAccount(p))
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (s *service) fail(ctx context.Context, p *Purchase, from, to PurchaseStatus, cause error) {
	if _, err := s.repo.Transition(ctx, p.ID, from, to, map[string]interface{}{
		"last_error": truncate(cause.Error()),
		"updated_at": s.now(),
	}); err != nil {
		s.logger.Error("Failed to record purchase failure", zap.String("purchase_id", p.ID), zap.Error(err))
	}
	p.Status = to
}

func (s *service) note(ctx context.Context, p *Purchase, cause error) {
	if err := s.repo.Update(ctx, p.ID, map[string]interface{}{"last_error": truncate(cause.Error()), "updated_at": s.now()}); err != nil {
		s.logger.Error("Failed to record purchase error", zap.String("purchase_id", p.ID), zap.Error(err))
	}
}

func (s *service) reload(ctx context.Context, p *Purchase) *Purchase {
	fresh, err := s.repo.GetPurchase(ctx, p.ID)
	if err != nil || fresh == nil {
		return p
	}
	return fresh
}

func (s *service) GetPurchase(ctx context.Context, caller, id string) (*Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Buyer != caller {
		return nil, ErrPurchaseNotFound
	}
	return p, nil
}

func (s *service) SettlePurchases(ctx context.Context, olderThan time.Duration) (int, error) {
	open, err := s.repo.ListOpen(ctx, s.now().Add(-olderThan), 100)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range open {
		p := &open[i]
		if err := s.resume(ctx, p); err != nil {
			s.logger.Warn("Failed to resume purchase",
				zap.String("purchase_id", p.ID),
				zap.String("status", string(p.Status)),
				zap.Error(err))
			continue
		}
		if !p.Open() {
			settled++
		}
	}
	return settled, nil
}

func (s *service) resume(ctx context.Context, p *Purchase) error {
	if p.Status == PurchasePending {
		landed, err := s.holds(ctx, p, p.Pulled)
		if err != nil {
			return err
		}
		if !landed {
			s.fail(ctx, p, PurchasePending, PurchaseFailed, errors.New("payment never arrived"))
			return nil
		}
		if err := s.markPaid(ctx, p, nil); err != nil {
			return err
		}
	}
	if p.Status == PurchasePaid {
		state, err := s.saleState(ctx, p)
		if err != nil {
			return err
		}
		switch state {
		case saleInFlight:
			// the claim recovery job decides the token first
			return nil
		case saleAbsent:
			return s.refund(ctx, p, errors.New("sale did not complete"))
		}
		if _, err := s.repo.Transition(ctx, p.ID, PurchasePaid, PurchaseSold, map[string]interface{}{"updated_at": s.now()}); err != nil {
			return err
		}
		p.Status = PurchaseSold
	}
	if p.Status == PurchaseSold {
		return s.settle(ctx, p)
	}
	return nil
}

func truncate(msg string) string {
	if len(msg) > 512 {
		return msg[:512]
	}
	return msg
}
