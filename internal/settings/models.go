package settings

import (
	"errors"
	"time"
)

const (
	KeyAllowedCurrencies    = "allowed_currencies"
	KeyInterestRateForBuyer = "interest_rate_for_buyer"
)

var (
	ErrUnauthorized        = errors.New("only custodians can change platform settings")
	ErrInvalidCurrency     = errors.New("currency codes must be three letters")
	ErrNoCurrencies        = errors.New("at least one currency must be allowed")
	ErrInvalidInterestRate = errors.New("interest rate must be greater than 1")
)

// Setting is a single row of platform_settings
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type SetCurrenciesRequest struct {
	Currencies []string `json:"currencies" binding:"required"`
}

type SetInterestRateRequest struct {
	Rate string `json:"rate" binding:"required"`
}
