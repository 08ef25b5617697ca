package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Ledger = (*Memory)(nil)

func TestMemoryTransferChargesFee(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(10)
	alice := NewAccount("alice")
	bob := NewAccount("bob")
	l.Mint(alice, 1_000)

	_, err := l.Transfer(ctx, alice, bob, 500)
	require.NoError(t, err)

	aliceBalance, _ := l.BalanceOf(ctx, alice)
	bobBalance, _ := l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(490), aliceBalance)
	assert.Equal(t, uint64(500), bobBalance)
}

func TestMemoryTransferInsufficientFunds(t *testing.T) {
	l := NewMemory(10)
	alice := NewAccount("alice")
	l.Mint(alice, 100)

	_, err := l.Transfer(context.Background(), alice, NewAccount("bob"), 95)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, TransferInsufficientFunds, transferErr.Kind)
	assert.Equal(t, uint64(100), transferErr.Balance)
}

func TestMemoryTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(10)
	buyer := NewAccount("buyer")
	escrow := WithSubaccount("escrow", SubaccountFromID(1))
	spender := NewAccount("escrow")
	l.Mint(buyer, 1_000)
	l.Approve(buyer, spender, 520, nil)

	_, err := l.TransferFrom(ctx, spender, buyer, escrow, 500)
	require.NoError(t, err)

	allowance, _ := l.Allowance(ctx, buyer, spender)
	assert.Equal(t, uint64(10), allowance.Amount)
	held, _ := l.BalanceOf(ctx, escrow)
	assert.Equal(t, uint64(500), held)

	_, err = l.TransferFrom(ctx, spender, buyer, escrow, 1)
	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, TransferInsufficientAllowance, transferErr.Kind)
}

func TestMemoryTransferFromExpiredAllowance(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	l := NewMemory(0).WithClock(func() time.Time { return now })
	buyer := NewAccount("buyer")
	spender := NewAccount("escrow")
	expired := now.Add(-time.Hour)
	l.Mint(buyer, 100)
	l.Approve(buyer, spender, 100, &expired)

	_, err := l.TransferFrom(context.Background(), spender, buyer, spender, 50)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, TransferAllowanceExpired, transferErr.Kind)
}

func TestAccountRoundTrip(t *testing.T) {
	account := WithSubaccount("escrow", SubaccountFromID(42))

	parsed, err := ParseAccount(account.String())

	require.NoError(t, err)
	assert.True(t, account.Equal(parsed))
	assert.Equal(t, byte(42), parsed.Subaccount[31])
	assert.Equal(t, "plain", NewAccount("plain").String())
	assert.True(t, NewAccount("x").Equal(WithSubaccount("x", Subaccount{})))
}

func TestRejected(t *testing.T) {
	assert.True(t, Rejected(fmt.Errorf("payout: %w", &TransferError{Kind: TransferInsufficientFunds})))
	assert.False(t, Rejected(&CallError{Actor: "ledger", Op: "transfer", Err: context.DeadlineExceeded}))
	assert.False(t, Rejected(nil))
}
