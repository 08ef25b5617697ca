package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-estate/settlement-backend/internal/ledger"
)

func TestConvert(t *testing.T) {
	units, err := Convert(100, decimal.RequireFromString("8.13"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_230_012_300), units)

	units, err = Convert(1, decimal.RequireFromString("3"))
	require.NoError(t, err)
	assert.Equal(t, uint64(33_333_333), units)

	_, err = Convert(100, decimal.Zero)
	assert.ErrorIs(t, err, ErrRateUnavailable)

	_, err = Convert(1<<63, decimal.RequireFromString("0.0001"))
	assert.Error(t, err)
}

func TestStaticRates(t *testing.T) {
	rates, err := NewStaticRates(map[string]string{"eur": "8.13"})
	require.NoError(t, err)

	rate, err := rates.Rate(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "8.13", rate.String())

	_, err = rates.Rate(context.Background(), "CHF")
	assert.ErrorIs(t, err, ErrRateUnavailable)

	_, err = NewStaticRates(map[string]string{"EUR": "eight"})
	assert.Error(t, err)
}

type countingRates struct {
	calls int
	rate  decimal.Decimal
}

func (c *countingRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	c.calls++
	return c.rate, nil
}

func TestCachedRatesExpireAtMidnight(t *testing.T) {
	ctx := context.Background()
	next := &countingRates{rate: decimal.RequireFromString("8.13")}
	clk := &clock{now: time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)}
	rates := NewCachedRates(next, clk.Now)

	for i := 0; i < 3; i++ {
		_, err := rates.Rate(ctx, "eur")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, next.calls)

	clk.Advance(time.Hour + 59*time.Minute)
	_, err := rates.Rate(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	clk.Advance(time.Minute)
	next.rate = decimal.RequireFromString("8.20")
	rate, err := rates.Rate(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, "8.2", rate.String())
}

func TestHTTPRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rates/EUR":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"currency":"EUR","rate":"8.13"}`))
		case "/rates/XXX":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"currency":"XXX","rate":"0"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rates := NewHTTPRates(srv.URL, time.Second)
	ctx := context.Background()

	rate, err := rates.Rate(ctx, "eur")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("8.13")))

	_, err = rates.Rate(ctx, "XXX")
	assert.ErrorIs(t, err, ErrRateUnavailable)

	_, err = rates.Rate(ctx, "CHF")
	var callErr *ledger.CallError
	assert.ErrorAs(t, err, &callErr)
}
