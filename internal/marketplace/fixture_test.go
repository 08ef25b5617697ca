package marketplace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/internal/database"
	"deferred-estate/settlement-backend/internal/ledger"
)

const (
	testFee        = 10_000
	marketplaceID  = "marketplace"
	priceNoInt     = uint64(1_230_012_300) // 100 EUR at 8.13 EUR per token
	interestForBuy = uint64(123_001_230)
)

type buyMode int

const (
	buyOK buyMode = iota
	buyReject
	buyCompleteWithError
	buyClaimAndFail
)

// fakeContracts keeps one EUR contract with two 100 EUR tokens owned by alice and bob
type fakeContracts struct {
	mu          sync.Mutex
	contract    contracts.Contract
	tokens      map[uint64]*contracts.Token
	mode        buyMode
	getFailures int
	buys        int
}

func newFakeContracts() *fakeContracts {
	alice, bob := "alice", "bob"
	return &fakeContracts{
		contract: contracts.Contract{
			ID:           1,
			Currency:     "EUR",
			Installments: 2,
			Value:        200,
			Status:       contracts.StatusActive,
			Buyers:       datatypes.NewJSONType(contracts.Buyers{Addresses: []string{"carol"}}),
		},
		tokens: map[uint64]*contracts.Token{
			0: {ContractID: 1, Index: 0, Owner: &alice, Operator: marketplaceID, Value: 100},
			1: {ContractID: 1, Index: 1, Owner: &bob, Operator: marketplaceID, Value: 100},
		},
	}
}

func (f *fakeContracts) GetToken(ctx context.Context, id, index uint64) (*contracts.TokenWithContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFailures > 0 && f.buys > 0 {
		f.getFailures--
		return nil, errors.New("database is locked")
	}
	t, ok := f.tokens[index]
	if !ok || id != f.contract.ID {
		return nil, contracts.ErrTokenNotFound
	}
	return &contracts.TokenWithContract{Token: *t, Contract: f.contract}, nil
}

func (f *fakeContracts) BuyToken(ctx context.Context, operator string, req contracts.BuyTokenRequest) (*contracts.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
	t := f.tokens[req.Index]
	if operator != t.Operator {
		return nil, contracts.ErrUnauthorized
	}
	now := time.Now()
	switch f.mode {
	case buyReject:
		return nil, contracts.ErrTokenSaleInProgress
	case buyClaimAndFail:
		t.PendingBuyer, t.PaymentTx = &req.Buyer, &req.PaymentTx
		return nil, errors.New("reward pool unreachable")
	}
	t.Owner, t.TransferredAt, t.RewardPaidAt, t.PaymentTx = &req.Buyer, &now, &now, &req.PaymentTx
	if f.contract.Buyers.Data().Contains(req.Buyer) {
		t.IsBurned, t.Owner = true, nil
	}
	if f.mode == buyCompleteWithError {
		return nil, errors.New("connection reset after commit")
	}
	return t, nil
}

// flakyLedger fails the next transfers sent to one owner with an unreachable error
type flakyLedger struct {
	*ledger.Memory
	mu       sync.Mutex
	failTo   string
	failures int
}

func (f *flakyLedger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) (uint64, error) {
	f.mu.Lock()
	fail := f.failures > 0 && to.Owner == f.failTo
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return 0, &ledger.CallError{Actor: "ledger", Op: "transfer", Err: errors.New("timeout")}
	}
	return f.Memory.Transfer(ctx, from, to, amount)
}

type fixedInterest string

func (r fixedInterest) InterestRate(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromString(string(r))
}

type poolAccount string

func (p poolAccount) Account() ledger.Account {
	return ledger.NewAccount(string(p))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	service   Service
	repo      Repository
	contracts *fakeContracts
	ledger    *flakyLedger
	clock     *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemoryGorm("marketplace_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))

	rates, err := NewStaticRates(map[string]string{"EUR": "8.13"})
	require.NoError(t, err)

	f := &fixture{
		repo:      NewRepository(db),
		contracts: newFakeContracts(),
		ledger:    &flakyLedger{Memory: ledger.NewMemory(testFee)},
		clock:     &clock{now: time.Now().UTC()},
	}
	f.service = NewService(f.repo, Dependencies{
		Contracts: f.contracts,
		Ledger:    f.ledger,
		Rates:     rates,
		Interest:  fixedInterest("1.1"),
		Liquidity: poolAccount("liquidity-pool"),
		Now:       f.clock.Now,
	}, marketplaceID, zap.NewNop())
	return f
}

// fund mints amount to buyer and approves the marketplace for all of it
func (f *fixture) fund(buyer string, amount uint64) {
	account := ledger.NewAccount(buyer)
	f.ledger.Mint(account, amount)
	f.ledger.Approve(account, f.service.Account(), amount, nil)
}

func (f *fixture) balance(t *testing.T, owner string) uint64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), ledger.NewAccount(owner))
	require.NoError(t, err)
	return b
}
