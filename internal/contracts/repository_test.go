package contracts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-estate/settlement-backend/internal/database"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	db, err := database.OpenMemoryGorm("contracts_repo_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	// a second migration must not reset the sequence
	require.NoError(t, AutoMigrate(db))
	return NewRepository(db)
}

func TestRepository_NextContractID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for want := uint64(1); want <= 3; want++ {
		id, err := repo.NextContractID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestRepository_TokenTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	owner := "alice"
	_, err := repo.CreateContract(ctx, &Contract{ID: 1, Kind: KindSell, Installments: 2, Value: 20, Currency: "EUR", Expiration: "2025-12-31", Status: StatusActive})
	require.NoError(t, err)

	require.NoError(t, repo.CreateTokens(ctx, []Token{
		{ContractID: 1, Index: 0, Owner: &owner, Operator: operator, Value: 10, MintedAt: now},
		{ContractID: 1, Index: 1, Owner: &owner, Operator: operator, Value: 10, MintedAt: now},
	}))
	// minting again leaves existing rows alone
	require.NoError(t, repo.CreateTokens(ctx, []Token{{ContractID: 1, Index: 0, Operator: "other", MintedAt: now}}))
	count, err := repo.CountTokens(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	claimed, err := repo.ClaimToken(ctx, 1, 0, "dave", "tx", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.ClaimToken(ctx, 1, 0, "erin", "tx", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// only the claim holder completes the sale
	done, err := repo.CompleteSale(ctx, 1, 0, "erin", operator, now)
	require.NoError(t, err)
	assert.False(t, done)
	done, err = repo.CompleteSale(ctx, 1, 0, "dave", operator, now)
	require.NoError(t, err)
	assert.True(t, done)

	token, err := repo.GetToken(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "dave", *token.Owner)
	assert.Equal(t, operator, token.Operator)
	assert.Nil(t, token.PendingBuyer)

	sold, err := repo.SoldValue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sold)

	burned, err := repo.BurnUnsold(ctx, 1, "deferred", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), burned)

	ok, err := repo.BurnToken(ctx, 1, 1, "deferred", now)
	require.NoError(t, err)
	assert.False(t, ok, "a burned token cannot be burned twice")

	missing, err := repo.GetToken(ctx, 1, 5)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_MarkClosedOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	c := &Contract{ID: 7, Kind: KindSell, Installments: 1, Value: 1, Currency: "EUR", Expiration: "2025-12-31", Status: StatusActive}
	created, err := repo.CreateContract(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.CreateContract(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)

	now := time.Now().UTC()
	closed, err := repo.MarkClosed(ctx, 7, now)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = repo.MarkClosed(ctx, 7, now)
	require.NoError(t, err)
	assert.False(t, closed)

	stored, err := repo.GetContract(ctx, 7)
	require.NoError(t, err)
	assert.True(t, stored.Closed)
	assert.Equal(t, StatusClosed, stored.Status)
}

func TestRepository_ClaimRequiresActiveContract(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	owner := "alice"
	_, err := repo.CreateContract(ctx, &Contract{ID: 3, Kind: KindSell, Installments: 2, Value: 20, Currency: "EUR", Expiration: "2025-12-31", Status: StatusActive})
	require.NoError(t, err)
	require.NoError(t, repo.CreateTokens(ctx, []Token{
		{ContractID: 3, Index: 0, Owner: &owner, Operator: operator, Value: 10, MintedAt: now},
		{ContractID: 3, Index: 1, Owner: &owner, Operator: operator, Value: 10, MintedAt: now},
	}))

	claimed, err := repo.ClaimToken(ctx, 3, 0, "dave", "tx", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	fenced, err := repo.UpdateStatus(ctx, 3, StatusActive, StatusClosing)
	require.NoError(t, err)
	require.True(t, fenced)

	claimed, err = repo.ClaimToken(ctx, 3, 1, "erin", "tx", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// a claim taken before the fence can still complete
	done, err := repo.CompleteSale(ctx, 3, 0, "dave", operator, now)
	require.NoError(t, err)
	assert.True(t, done)

	// tokens of unknown contracts cannot be claimed
	require.NoError(t, repo.CreateTokens(ctx, []Token{{ContractID: 4, Index: 0, Owner: &owner, Operator: operator, Value: 10, MintedAt: now}}))
	claimed, err = repo.ClaimToken(ctx, 4, 0, "dave", "tx", now)
	require.NoError(t, err)
	assert.False(t, claimed)
}
