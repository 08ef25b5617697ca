package liquidity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/ledger"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetRefund(ctx context.Context, principal string) (*Refund, error) {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Refund), args.Error(1)
}

func (m *MockRepository) CreditRefund(ctx context.Context, credit *RefundCredit) (bool, error) {
	args := m.Called(ctx, credit)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetCredit(ctx context.Context, contractID uint64) (*RefundCredit, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RefundCredit), args.Error(1)
}

func (m *MockRepository) AddRefund(ctx context.Context, principal string, amount uint64) error {
	args := m.Called(ctx, principal, amount)
	return args.Error(0)
}

func (m *MockRepository) TakeRefund(ctx context.Context, principal string) (*Refund, error) {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Refund), args.Error(1)
}

func (m *MockRepository) TotalPending(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

type rejectingLedger struct {
	*ledger.Memory
}

func (l rejectingLedger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) (uint64, error) {
	return 0, &ledger.TransferError{Kind: ledger.TransferGeneric, Message: "ledger paused"}
}

// lostReplyLedger applies the transfer and then reports a timeout
type lostReplyLedger struct {
	*ledger.Memory
}

func (l lostReplyLedger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) (uint64, error) {
	if _, err := l.Memory.Transfer(ctx, from, to, amount); err != nil {
		return 0, err
	}
	return 0, &ledger.CallError{Actor: "ledger", Op: "transfer", Err: errors.New("timeout")}
}

const fee = 10_000

func TestCreditRefundIsIdempotentPerContract(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository(), ledger.NewMemory(fee), "liquidity-pool", zap.NewNop())

	require.NoError(t, svc.CreditRefund(ctx, 1, "buyer", 500))
	require.NoError(t, svc.CreditRefund(ctx, 1, "buyer", 500))
	require.NoError(t, svc.CreditRefund(ctx, 2, "buyer", 250))

	amount, err := svc.GetRefund(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, uint64(750), amount)
}

func TestWithdrawRefund(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory(fee)
	svc := NewService(NewMemoryRepository(), l, "liquidity-pool", zap.NewNop())
	l.Mint(svc.Account(), 1_000_000)

	require.NoError(t, svc.CreditRefund(ctx, 7, "buyer", 400_000))

	sub := ledger.SubaccountFromID(3)
	amount, err := svc.WithdrawRefund(ctx, "buyer", &sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(400_000), amount)

	received, _ := l.BalanceOf(ctx, ledger.WithSubaccount("buyer", sub))
	assert.Equal(t, uint64(400_000), received)
	pool, _ := l.BalanceOf(ctx, svc.Account())
	assert.Equal(t, uint64(1_000_000-400_000-fee), pool)

	_, err = svc.WithdrawRefund(ctx, "buyer", nil)
	assert.ErrorIs(t, err, ErrNothingToWithdraw)
}

func TestWithdrawRefundRestoresOnFailedTransfer(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	svc := NewService(mockRepo, rejectingLedger{ledger.NewMemory(fee)}, "liquidity-pool", zap.NewNop())

	mockRepo.On("TakeRefund", ctx, "buyer").Return(&Refund{Principal: "buyer", Amount: 90}, nil)
	mockRepo.On("AddRefund", ctx, "buyer", uint64(90)).Return(nil)

	_, err := svc.WithdrawRefund(ctx, "buyer", nil)

	var transferErr *ledger.TransferError
	assert.ErrorAs(t, err, &transferErr)
	mockRepo.AssertExpectations(t)
}

func TestWithdrawRefundUnknownOutcomeIsNotRestored(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory(fee)
	svc := NewService(NewMemoryRepository(), lostReplyLedger{l}, "liquidity-pool", zap.NewNop())
	l.Mint(svc.Account(), 1_000_000)
	require.NoError(t, svc.CreditRefund(ctx, 7, "buyer", 400_000))

	_, err := svc.WithdrawRefund(ctx, "buyer", nil)
	assert.ErrorIs(t, err, ledger.ErrOutcomeUnknown)
	var callErr *ledger.CallError
	assert.ErrorAs(t, err, &callErr)

	pending, err := svc.GetRefund(ctx, "buyer")
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = svc.WithdrawRefund(ctx, "buyer", nil)
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	received, _ := l.BalanceOf(ctx, ledger.NewAccount("buyer"))
	assert.Equal(t, uint64(400_000), received)
}

func TestFreeBalanceExcludesPendingRefunds(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory(fee)
	svc := NewService(NewMemoryRepository(), l, "liquidity-pool", zap.NewNop())
	l.Mint(svc.Account(), 1_000)

	require.NoError(t, svc.CreditRefund(ctx, 1, "buyer", 600))
	free, err := svc.FreeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), free)

	require.NoError(t, svc.CreditRefund(ctx, 2, "buyer", 600))
	free, err = svc.FreeBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, free)
}
