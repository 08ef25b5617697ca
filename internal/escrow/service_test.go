package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/database"
	"deferred-estate/settlement-backend/internal/ledger"
)

const fee = 10_000

type fixture struct {
	ledger  *ledger.Memory
	repo    Repository
	service Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemoryGorm("escrow_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))

	l := ledger.NewMemory(fee)
	repo := NewRepository(db)
	return &fixture{
		ledger:  l,
		repo:    repo,
		service: NewService(repo, l, "deferred-escrow", zap.NewNop()),
	}
}

// fund gives buyer amount plus fee and approves the contract escrow for it
func (f *fixture) fund(contractID uint64, buyer ledger.Account, amount uint64) {
	f.ledger.Mint(buyer, amount+fee)
	f.ledger.Approve(buyer, f.service.Spender(), amount+fee, nil)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	f.fund(1, buyer, 400_000_000_000)

	m, err := f.service.Collect(ctx, 1, buyer, 400_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)

	balance, _ := f.ledger.BalanceOf(ctx, f.service.Account(1))
	assert.Equal(t, uint64(400_000_000_000), balance)
	held, err := f.service.Held(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, balance, held)

	// a retry returns the recorded deposit without pulling again
	again, err := f.service.Collect(ctx, 1, buyer, 400_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	balance, _ = f.ledger.BalanceOf(ctx, f.service.Account(1))
	assert.Equal(t, uint64(400_000_000_000), balance)
}

func TestCollect_AllowanceNotEnough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	f.ledger.Mint(buyer, 1_000_000)
	f.ledger.Approve(buyer, f.service.Spender(), 1_000_000, nil)

	_, err := f.service.Collect(ctx, 1, buyer, 1_000_000)

	var notEnough *AllowanceNotEnoughError
	require.ErrorAs(t, err, &notEnough)
	assert.Equal(t, uint64(1_000_000+fee), notEnough.Required)
	assert.Equal(t, uint64(1_000_000), notEnough.Available)

	movements, err := f.service.Movements(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestCollect_AllowanceExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	yesterday := time.Now().Add(-24 * time.Hour)
	f.ledger.Mint(buyer, 2_000_000)
	f.ledger.Approve(buyer, f.service.Spender(), 2_000_000, &yesterday)

	_, err := f.service.Collect(ctx, 1, buyer, 1_000_000)
	assert.ErrorIs(t, err, ErrAllowanceExpired)
}

func TestCollect_RejectedTransferLeavesNoMovement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	// allowance is fine but the buyer holds nothing
	f.ledger.Approve(buyer, f.service.Spender(), 2_000_000, nil)

	_, err := f.service.Collect(ctx, 1, buyer, 1_000_000)
	assert.ErrorIs(t, err, ErrDepositRejected)

	var transferErr *ledger.TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, ledger.TransferInsufficientFunds, transferErr.Kind)

	movements, err := f.service.Movements(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestCollect_ReconcilesPendingDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")

	// the pull happened but the process stopped before completing the journal
	_, err := f.repo.CreateMovement(ctx, &Movement{
		ID: "m-1", ContractID: 2, Key: depositKey(), Kind: MovementDeposit,
		Status: StatusPending, Counterparty: buyer.String(), Amount: 500_000, Fee: fee,
	})
	require.NoError(t, err)
	f.ledger.Mint(f.service.Account(2), 500_000)

	m, err := f.service.Collect(ctx, 2, buyer, 500_000)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)

	held, err := f.service.Held(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), held)
}

func TestDistribute_OncePerSeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	f.fund(1, buyer, 400_000_000_000)
	_, err := f.service.Collect(ctx, 1, buyer, 400_000_000_000)
	require.NoError(t, err)

	share, _ := SellerShare(Deposit{ValueICP: 400_000_000_000}, 60)
	m, err := f.service.Distribute(ctx, 1, "alice", share, ledger.NewAccount("alice"))
	require.NoError(t, err)
	assert.Equal(t, share-fee, m.Sent())

	received, _ := f.ledger.BalanceOf(ctx, ledger.NewAccount("alice"))
	assert.Equal(t, uint64(240_000_000_000-fee), received)

	_, err = f.service.Distribute(ctx, 1, "alice", share, ledger.NewAccount("alice"))
	assert.ErrorIs(t, err, ErrAlreadyWithdrawn)

	held, err := f.service.Held(ctx, 1)
	require.NoError(t, err)
	balance, _ := f.ledger.BalanceOf(ctx, f.service.Account(1))
	assert.Equal(t, uint64(160_000_000_000), held)
	assert.Equal(t, held, balance)
}

func TestDistribute_ShareBelowFee(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Distribute(context.Background(), 1, "alice", fee, ledger.NewAccount("alice"))
	assert.ErrorIs(t, err, ErrInvalidTransferAmount)
}

func TestDistribute_NotEnoughHeld(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Distribute(context.Background(), 1, "alice", 1_000_000, ledger.NewAccount("alice"))
	assert.ErrorIs(t, err, ErrNotEnoughHeld)

	w, err := f.repo.GetWithdrawal(context.Background(), 1, "alice")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSettle_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := ledger.NewAccount("buyer")
	lp := ledger.NewAccount("liquidity-pool")
	f.fund(3, buyer, 1_000_000)
	_, err := f.service.Collect(ctx, 3, buyer, 1_000_000)
	require.NoError(t, err)

	m, err := f.service.Settle(ctx, 3, lp, 600_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), m.Amount)
	assert.Equal(t, uint64(600_000), m.RefundAmount)

	again, err := f.service.Settle(ctx, 3, lp, 999)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, uint64(600_000), again.RefundAmount)

	received, _ := f.ledger.BalanceOf(ctx, lp)
	assert.Equal(t, uint64(1_000_000-fee), received)
	held, err := f.service.Held(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, held)
	balance, _ := f.ledger.BalanceOf(ctx, f.service.Account(3))
	assert.Zero(t, balance)
}

func TestSettle_WithoutDeposit(t *testing.T) {
	f := newFixture(t)
	m, err := f.service.Settle(context.Background(), 4, ledger.NewAccount("liquidity-pool"), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	assert.Zero(t, m.Amount)
}

type unreachableLedger struct {
	*ledger.Memory
	fail bool
}

func (l *unreachableLedger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) (uint64, error) {
	if l.fail {
		return 0, &ledger.CallError{Actor: "ledger", Op: "transfer", Err: errors.New("timeout")}
	}
	return l.Memory.Transfer(ctx, from, to, amount)
}

func TestSettle_RetriesAfterUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := &unreachableLedger{Memory: f.ledger, fail: true}
	svc := NewService(f.repo, l, "deferred-escrow", zap.NewNop())
	buyer := ledger.NewAccount("buyer")
	lp := ledger.NewAccount("liquidity-pool")
	f.fund(5, buyer, 1_000_000)
	_, err := svc.Collect(ctx, 5, buyer, 1_000_000)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, 5, lp, 100)
	var callErr *ledger.CallError
	require.ErrorAs(t, err, &callErr)

	stored, err := svc.GetSettlement(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatusPending, stored.Status)

	l.fail = false
	m, err := svc.Settle(ctx, 5, lp, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	received, _ := f.ledger.BalanceOf(ctx, lp)
	assert.Equal(t, uint64(1_000_000-fee), received)
}
