package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Validator checks registration requests. Checks run in a fixed order and stop at the
// first failure; none of them has side effects.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a validator using now for the expiration check
func NewValidator(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// ValidateTerms checks currency, parties, installments and expiration
func (v *Validator) ValidateTerms(req *RegisterContractRequest, allowedCurrencies []string) error {
	if !currencyAllowed(req.Currency, allowedCurrencies) {
		return fmt.Errorf("%w: %s", ErrCurrencyNotAllowed, req.Currency)
	}
	if err := validateSellers(req.Sellers); err != nil {
		return err
	}
	if err := validateBuyers(req.Buyers); err != nil {
		return err
	}
	if req.Installments == 0 || req.Value%req.Installments != 0 {
		return fmt.Errorf("%w: value %d, installments %d", ErrContractValueIsNotMultipleOfInstallments, req.Value, req.Installments)
	}
	return v.validateExpiration(req.Expiration)
}

// ValidateContent checks the deposit, the kind and the properties
func (v *Validator) ValidateContent(req *RegisterContractRequest) error {
	if req.Deposit.ValueICP > 0 {
		if req.Deposit.ValueFiat == 0 {
			return fmt.Errorf("%w: fiat value is required with an ICP value", ErrInvalidDeposit)
		}
		if req.Buyers.DepositAccount == nil || req.Buyers.DepositAccount.Owner == "" {
			return fmt.Errorf("%w: deposit account is required", ErrInvalidDeposit)
		}
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	if err := ValidateProperties(req.Properties); err != nil {
		return err
	}
	return ValidateRestrictedProperties(req.RestrictedProperties)
}

func (v *Validator) validateExpiration(expiration string) error {
	date, err := time.Parse(ExpirationLayout, expiration)
	if err != nil {
		return fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrBadContractExpiration, expiration)
	}
	if date.Before(today(v.now())) {
		return fmt.Errorf("%w: %s is in the past", ErrBadContractExpiration, expiration)
	}
	return nil
}

// ValidateRestrictedProperties applies ValidateProperties and checks access lists
func ValidateRestrictedProperties(props []RestrictedProperty) error {
	plain := make([]Property, 0, len(props))
	for _, p := range props {
		for _, level := range p.AccessList {
			if !level.Valid() {
				return fmt.Errorf("%w: property %q has unknown access level %q", ErrInvalidProperty, p.Key, level)
			}
		}
		plain = append(plain, Property{Key: p.Key, Value: p.Value})
	}
	return ValidateProperties(plain)
}

func (l AccessLevel) Valid() bool {
	return l == AccessSeller || l == AccessBuyer || l == AccessAgent
}

func validateSellers(sellers []Seller) error {
	if len(sellers) == 0 {
		return ErrContractHasNoSeller
	}
	seen := make(map[string]bool, len(sellers))
	var total uint
	for _, s := range sellers {
		if strings.TrimSpace(s.Address) == "" {
			return fmt.Errorf("%w: empty seller address", ErrContractHasNoSeller)
		}
		if seen[s.Address] {
			return fmt.Errorf("%w: %s", ErrDuplicateSeller, s.Address)
		}
		seen[s.Address] = true
		total += uint(s.Quota)
	}
	if total != 100 {
		return fmt.Errorf("%w: got %d", ErrContractSellerQuotaIsNot100, total)
	}
	return nil
}

func validateBuyers(buyers Buyers) error {
	if len(buyers.Addresses) == 0 {
		return ErrContractHasNoBuyer
	}
	for _, addr := range buyers.Addresses {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%w: empty buyer address", ErrContractHasNoBuyer)
		}
	}
	return nil
}

func currencyAllowed(currency string, allowed []string) bool {
	for _, c := range allowed {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// today truncates t to its UTC date
func today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
