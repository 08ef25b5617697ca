package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ledger is the fungible-token ledger used to move deposit, price and reward funds.
// Every transfer debits amount plus fee from the source and credits amount to the destination.
type Ledger interface {
	Fee(ctx context.Context) (uint64, error)
	BalanceOf(ctx context.Context, account Account) (uint64, error)
	Allowance(ctx context.Context, owner, spender Account) (Allowance, error)
	Transfer(ctx context.Context, from, to Account, amount uint64) (uint64, error)
	TransferFrom(ctx context.Context, spender, from, to Account, amount uint64) (uint64, error)
}

// Allowance is the amount spender may pull from owner
type Allowance struct {
	Amount    uint64     `json:"allowance"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the allowance expired before now
func (a Allowance) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// TransferErrorKind classifies ledger rejections
type TransferErrorKind string

const (
	TransferInsufficientFunds     TransferErrorKind = "insufficient_funds"
	TransferInsufficientAllowance TransferErrorKind = "insufficient_allowance"
	TransferAllowanceExpired      TransferErrorKind = "allowance_expired"
	TransferBadAmount             TransferErrorKind = "bad_amount"
	TransferGeneric               TransferErrorKind = "generic"
)

// TransferError is returned when the ledger rejects a transfer
type TransferError struct {
	Kind      TransferErrorKind `json:"kind"`
	Balance   uint64            `json:"balance,omitempty"`
	Allowance uint64            `json:"allowance,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case TransferInsufficientFunds:
		return fmt.Sprintf("transfer rejected: insufficient funds (balance %d)", e.Balance)
	case TransferInsufficientAllowance:
		return fmt.Sprintf("transfer rejected: insufficient allowance (allowance %d)", e.Allowance)
	case TransferAllowanceExpired:
		return "transfer rejected: allowance expired"
	}
	if e.Message != "" {
		return "transfer rejected: " + e.Message
	}
	return "transfer rejected: " + string(e.Kind)
}

// CallError wraps failures to reach a collaborator; Actor names who failed
type CallError struct {
	Actor string
	Op    string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s call failed: %v", e.Actor, e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ErrOutcomeUnknown marks a transfer that may or may not have been applied.
// Callers must not restore balances or retry it.
var ErrOutcomeUnknown = errors.New("transfer outcome unknown")

// Rejected reports whether err is a ledger rejection, so the transfer did not happen
func Rejected(err error) bool {
	var transferErr *TransferError
	return errors.As(err, &transferErr)
}
