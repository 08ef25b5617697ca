package ledger

import (
	"context"
	"sync"
	"time"
)

type allowanceKey struct {
	owner   string
	spender string
}

// Memory is an in-process ledger used by the dev profile and tests
type Memory struct {
	mu         sync.Mutex
	fee        uint64
	balances   map[string]uint64
	allowances map[allowanceKey]Allowance
	nextTx     uint64
	now        func() time.Time
}

// NewMemory creates an empty ledger charging fee on every transfer
func NewMemory(fee uint64) *Memory {
	return &Memory{
		fee:        fee,
		balances:   make(map[string]uint64),
		allowances: make(map[allowanceKey]Allowance),
		now:        time.Now,
	}
}

// WithClock overrides the clock used for allowance expiry
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Mint credits amount to account out of thin air
func (m *Memory) Mint(account Account, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account.String()] += amount
}

// Approve sets the allowance spender may pull from owner
func (m *Memory) Approve(owner, spender Account, amount uint64, expiresAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{owner.String(), spender.String()}] = Allowance{Amount: amount, ExpiresAt: expiresAt}
}

func (m *Memory) Fee(ctx context.Context) (uint64, error) {
	return m.fee, nil
}

func (m *Memory) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account.String()], nil
}

func (m *Memory) Allowance(ctx context.Context, owner, spender Account) (Allowance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[allowanceKey{owner.String(), spender.String()}], nil
}

func (m *Memory) Transfer(ctx context.Context, from, to Account, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.move(from, to, amount); err != nil {
		return 0, err
	}
	return m.tx(), nil
}

func (m *Memory) TransferFrom(ctx context.Context, spender, from, to Account, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := allowanceKey{from.String(), spender.String()}
	allowance := m.allowances[key]
	if allowance.Expired(m.now()) {
		return 0, &TransferError{Kind: TransferAllowanceExpired}
	}
	total := amount + m.fee
	if total < amount || allowance.Amount < total {
		return 0, &TransferError{Kind: TransferInsufficientAllowance, Allowance: allowance.Amount}
	}
	if err := m.move(from, to, amount); err != nil {
		return 0, err
	}
	allowance.Amount -= total
	m.allowances[key] = allowance
	return m.tx(), nil
}

func (m *Memory) move(from, to Account, amount uint64) error {
	if amount == 0 {
		return &TransferError{Kind: TransferBadAmount, Message: "amount must be positive"}
	}
	total := amount + m.fee
	if total < amount {
		return &TransferError{Kind: TransferBadAmount, Message: "amount overflows"}
	}
	balance := m.balances[from.String()]
	if balance < total {
		return &TransferError{Kind: TransferInsufficientFunds, Balance: balance}
	}
	m.balances[from.String()] = balance - total
	m.balances[to.String()] += amount
	return nil
}

func (m *Memory) tx() uint64 {
	m.nextTx++
	return m.nextTx
}
