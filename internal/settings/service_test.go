package settings

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticRoles map[string]bool

func (r staticRoles) IsCustodian(ctx context.Context, principal string) (bool, error) {
	return r[principal], nil
}

func newTestService() Service {
	return NewService(NewMemoryRepository(), staticRoles{"admin": true}, Defaults{
		AllowedCurrencies: []string{"EUR", "USD"},
		InterestRate:      decimal.RequireFromString("1.1"),
	}, zap.NewNop())
}

func TestAllowedCurrenciesFallsBackToDefaults(t *testing.T) {
	svc := newTestService()

	currencies, err := svc.AllowedCurrencies(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"EUR", "USD"}, currencies)
}

func TestSetAllowedCurrencies(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.SetAllowedCurrencies(ctx, "mallory", []string{"GBP"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.SetAllowedCurrencies(ctx, "admin", []string{"EURO"})
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = svc.SetAllowedCurrencies(ctx, "admin", nil)
	assert.ErrorIs(t, err, ErrNoCurrencies)

	stored, err := svc.SetAllowedCurrencies(ctx, "admin", []string{"gbp", " chf", "GBP"})
	require.NoError(t, err)
	assert.Equal(t, []string{"GBP", "CHF"}, stored)

	currencies, err := svc.AllowedCurrencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GBP", "CHF"}, currencies)
}

func TestInterestRate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	rate, err := svc.InterestRate(ctx)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.1")))

	assert.ErrorIs(t, svc.SetInterestRate(ctx, "admin", decimal.RequireFromString("1")), ErrInvalidInterestRate)
	assert.ErrorIs(t, svc.SetInterestRate(ctx, "bob", decimal.RequireFromString("1.2")), ErrUnauthorized)

	require.NoError(t, svc.SetInterestRate(ctx, "admin", decimal.RequireFromString("1.25")))
	rate, err = svc.InterestRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.25", rate.String())
}
