package contracts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/database"
	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/internal/liquidity"
	"deferred-estate/settlement-backend/internal/rewards"
)

const (
	testFee      = 10_000
	operator     = "marketplace"
	custodian    = "admin"
	agencyWallet = "agency-wallet"
	depositICP   = 400_000_000_000
	// reward liquidity small enough that every installment earns the 2*fee floor
	rewardLiquidity = 1_000_000_000
)

type fakeMirror struct {
	mu        sync.Mutex
	created   map[uint64]int
	closed    map[uint64]int
	createErr error
	closeErr  error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{created: map[uint64]int{}, closed: map[uint64]int{}}
}

func (m *fakeMirror) CreateContract(ctx context.Context, c *Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created[c.ID]++
	return nil
}

func (m *fakeMirror) CloseContract(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	m.closed[id]++
	return nil
}

func (m *fakeMirror) fail(createErr, closeErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = createErr
	m.closeErr = closeErr
}

// replyLossLedger applies transfers but can report a timeout for the next n of them
type replyLossLedger struct {
	*ledger.Memory
	mu   sync.Mutex
	lost int
}

func (l *replyLossLedger) loseReplies(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = n
}

func (l *replyLossLedger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) (uint64, error) {
	tx, err := l.Memory.Transfer(ctx, from, to, amount)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost > 0 {
		l.lost--
		return 0, &ledger.CallError{Actor: "ledger", Op: "transfer", Err: errors.New("timeout")}
	}
	return tx, nil
}

type staticCurrencies []string

func (s staticCurrencies) AllowedCurrencies(ctx context.Context) ([]string, error) {
	return s, nil
}

type fixture struct {
	ledger  *ledger.Memory
	payouts *replyLossLedger
	repo    Repository
	escrow  escrow.Service
	rewards rewards.Service
	refunds liquidity.Service
	roles   auth.Service
	mirror  *fakeMirror
	service Service

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, overrides ...func(*Dependencies)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemoryGorm("contracts_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, escrow.AutoMigrate(db))
	require.NoError(t, auth.AutoMigrate(db))

	logger := zap.NewNop()
	l := ledger.NewMemory(testFee)
	payouts := &replyLossLedger{Memory: l}
	f := &fixture{
		ledger:  l,
		payouts: payouts,
		repo:    NewRepository(db),
		escrow:  escrow.NewService(escrow.NewRepository(db), l, "deferred-escrow", logger),
		rewards: rewards.NewService(rewards.NewMemoryRepository(), payouts, rewards.NewCalculator(0, nil), "reward-pool", logger),
		refunds: liquidity.NewService(liquidity.NewMemoryRepository(), l, "liquidity-pool", logger),
		roles:   auth.NewService(auth.NewRepository(db), logger),
		mirror:  newFakeMirror(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.roles.BootstrapCustodians(ctx, []string{custodian}))
	require.NoError(t, f.roles.RegisterAgency(ctx, custodian, agencyWallet, auth.Agency{Name: "Estates"}))
	l.Mint(f.rewards.Account(), rewardLiquidity)

	deps := Dependencies{
		Escrow:     f.escrow,
		Rewards:    f.rewards,
		Refunds:    f.refunds,
		Roles:      f.roles,
		Mirror:     f.mirror,
		Currencies: staticCurrencies{"EUR", "USD"},
		Operator:   operator,
		Minter:     "deferred",
		Now:        f.clock,
	}
	for _, override := range overrides {
		override(&deps)
	}
	f.service = NewService(f.repo, deps, logger)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fixture) balance(t *testing.T, account ledger.Account) uint64 {
	t.Helper()
	balance, err := f.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return balance
}

// fundDeposit gives the deposit buyer the deposit plus fee and approves the escrow
func (f *fixture) fundDeposit(buyer ledger.Account, amount uint64) {
	f.ledger.Mint(buyer, amount+testFee)
	f.ledger.Approve(buyer, f.escrow.Spender(), amount+testFee, nil)
}

func sampleRequest() RegisterContractRequest {
	depositAccount := ledger.NewAccount("carol")
	return RegisterContractRequest{
		Kind:         KindSell,
		Sellers:      []Seller{{Address: "alice", Quota: 60}, {Address: "bob", Quota: 40}},
		Buyers:       Buyers{Addresses: []string{"carol"}, DepositAccount: &depositAccount},
		Value:        400_000,
		Installments: 4,
		Currency:     "EUR",
		Deposit:      escrow.Deposit{ValueFiat: 400_000, ValueICP: depositICP},
		Expiration:   "2025-12-31",
		Properties: []Property{
			{Key: "contract:city", Value: TextValue("Rome")},
			{Key: "contract:square_meters", Value: Nat64Value(120)},
		},
		RestrictedProperties: []RestrictedProperty{
			{Key: "contract:address", AccessList: []AccessLevel{AccessBuyer, AccessAgent}, Value: TextValue("Via Roma 10")},
			{Key: "contract:seller_iban", AccessList: []AccessLevel{AccessSeller}, Value: TextValue("IT60X0542811101000000123456")},
		},
	}
}

// register registers sampleRequest as the custodian and returns its id
func (f *fixture) register(t *testing.T) uint64 {
	t.Helper()
	req := sampleRequest()
	f.fundDeposit(*req.Buyers.DepositAccount, req.Deposit.ValueICP)
	id, err := f.service.RegisterContract(context.Background(), custodian, req)
	require.NoError(t, err)
	return id
}

func (f *fixture) buy(t *testing.T, id, index uint64, buyer string) *Token {
	t.Helper()
	token, err := f.service.BuyToken(context.Background(), operator, BuyTokenRequest{
		ContractID: id,
		Index:      index,
		Buyer:      buyer,
		PaymentTx:  "payment",
	})
	require.NoError(t, err)
	return token
}
