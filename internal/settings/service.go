package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Roles is the part of the auth service settings needs
type Roles interface {
	IsCustodian(ctx context.Context, principal string) (bool, error)
}

// Service holds platform-wide knobs that custodians can change at runtime
type Service interface {
	AllowedCurrencies(ctx context.Context) ([]string, error)
	SetAllowedCurrencies(ctx context.Context, caller string, currencies []string) ([]string, error)
	InterestRate(ctx context.Context) (decimal.Decimal, error)
	SetInterestRate(ctx context.Context, caller string, rate decimal.Decimal) error
}

// Defaults apply until a custodian stores an override
type Defaults struct {
	AllowedCurrencies []string
	InterestRate      decimal.Decimal
}

type service struct {
	repo     Repository
	roles    Roles
	defaults Defaults
	logger   *zap.Logger
}

func NewService(repo Repository, roles Roles, defaults Defaults, logger *zap.Logger) Service {
	return &service{
		repo:     repo,
		roles:    roles,
		defaults: defaults,
		logger:   logger,
	}
}

func (s *service) AllowedCurrencies(ctx context.Context) ([]string, error) {
	setting, err := s.repo.Get(ctx, KeyAllowedCurrencies)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return append([]string(nil), s.defaults.AllowedCurrencies...), nil
	}
	var currencies []string
	if err := json.Unmarshal([]byte(setting.Value), &currencies); err != nil {
		return nil, fmt.Errorf("malformed %s setting: %w", KeyAllowedCurrencies, err)
	}
	return currencies, nil
}

func (s *service) SetAllowedCurrencies(ctx context.Context, caller string, currencies []string) ([]string, error) {
	if err := s.requireCustodian(ctx, caller); err != nil {
		return nil, err
	}
	normalized, err := normalizeCurrencies(currencies)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Set(ctx, &Setting{Key: KeyAllowedCurrencies, Value: string(raw), UpdatedBy: caller}); err != nil {
		return nil, err
	}
	s.logger.Info("Allowed currencies updated",
		zap.String("caller", caller),
		zap.Strings("currencies", normalized))
	return normalized, nil
}

func (s *service) InterestRate(ctx context.Context) (decimal.Decimal, error) {
	setting, err := s.repo.Get(ctx, KeyInterestRateForBuyer)
	if err != nil {
		return decimal.Zero, err
	}
	if setting == nil {
		return s.defaults.InterestRate, nil
	}
	rate, err := decimal.NewFromString(setting.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed %s setting: %w", KeyInterestRateForBuyer, err)
	}
	return rate, nil
}

func (s *service) SetInterestRate(ctx context.Context, caller string, rate decimal.Decimal) error {
	if err := s.requireCustodian(ctx, caller); err != nil {
		return err
	}
	if rate.LessThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidInterestRate
	}
	if err := s.repo.Set(ctx, &Setting{Key: KeyInterestRateForBuyer, Value: rate.String(), UpdatedBy: caller}); err != nil {
		return err
	}
	s.logger.Info("Buyer interest rate updated", zap.String("caller", caller), zap.String("rate", rate.String()))
	return nil
}

func (s *service) requireCustodian(ctx context.Context, caller string) error {
	ok, err := s.roles.IsCustodian(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// normalizeCurrencies upper-cases and de-duplicates, keeping the caller's order
func normalizeCurrencies(currencies []string) ([]string, error) {
	seen := make(map[string]bool, len(currencies))
	out := make([]string, 0, len(currencies))
	for _, c := range currencies {
		code := strings.ToUpper(strings.TrimSpace(c))
		if len(code) != 3 || strings.IndexFunc(code, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil, ErrNoCurrencies
	}
	return out, nil
}
