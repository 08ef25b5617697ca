package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"deferred-estate/settlement-backend/internal/ledger"
)

// ledgerDecimals is the number of base units in one whole ledger token
const ledgerDecimals = 8

// RateProvider returns how many units of currency one whole ledger token is worth
type RateProvider interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Convert turns a fiat amount into ledger base units, rounding half away from zero
func Convert(amount uint64, rate decimal.Decimal) (uint64, error) {
	if !rate.IsPositive() {
		return 0, fmt.Errorf("%w: non positive rate %s", ErrRateUnavailable, rate)
	}
	units := fromUint64(amount).Div(rate).Shift(ledgerDecimals).Round(0)
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("converted amount %s overflows", units)
	}
	return units.BigInt().Uint64(), nil
}

type staticRates map[string]decimal.Decimal

// NewStaticRates parses a currency to rate table, e.g. {"EUR": "8.13"}
func NewStaticRates(table map[string]string) (RateProvider, error) {
	rates := make(staticRates, len(table))
	for currency, raw := range table {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", currency, err)
		}
		rates[strings.ToUpper(currency)] = rate
	}
	return rates, nil
}

func (r staticRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := r[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no static rate for %s", ErrRateUnavailable, currency)
	}
	return rate, nil
}

type rateResponse struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}

type httpRates struct {
	client *resty.Client
}

// NewHTTPRates reads rates from GET {endpoint}/rates/{currency}
func NewHTTPRates(endpoint string, timeout time.Duration) RateProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &httpRates{client: client}
}

func (r *httpRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out rateResponse
	res, err := r.client.R().
		SetContext(ctx).
		SetPathParam("currency", strings.ToUpper(currency)).
		SetResult(&out).
		Get("/rates/{currency}")
	if err != nil {
		return decimal.Zero, &ledger.CallError{Actor: "rates", Op: "get_rate", Err: err}
	}
	if res.IsError() {
		return decimal.Zero, &ledger.CallError{Actor: "rates", Op: "get_rate", Err: fmt.Errorf("status %d", res.StatusCode())}
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s rate %s", ErrRateUnavailable, currency, out.Rate)
	}
	return out.Rate, nil
}

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// cachedRates keeps each rate until the end of the UTC day it was fetched on
type cachedRates struct {
	next  RateProvider
	now   func() time.Time
	mu    sync.Mutex
	rates map[string]cachedRate
}

func NewCachedRates(next RateProvider, now func() time.Time) RateProvider {
	if now == nil {
		now = time.Now
	}
	return &cachedRates{next: next, now: now, rates: make(map[string]cachedRate)}
}

func (r *cachedRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	key := strings.ToUpper(currency)
	now := r.now().UTC()

	r.mu.Lock()
	cached, ok := r.rates[key]
	r.mu.Unlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.rate, nil
	}

	rate, err := r.next.Rate(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	r.mu.Lock()
	r.rates[key] = cachedRate{rate: rate, expiresAt: midnight}
	r.mu.Unlock()
	return rate, nil
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
