package contracts

import (
	"errors"
	"fmt"
	"net/http"

	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/internal/rewards"
)

// Validation errors
var (
	ErrCurrencyNotAllowed                       = errors.New("currency not allowed")
	ErrContractHasNoSeller                      = errors.New("contract has no seller")
	ErrContractSellerQuotaIsNot100              = errors.New("contract seller quota is not 100")
	ErrDuplicateSeller                          = errors.New("contract seller listed twice")
	ErrContractHasNoBuyer                       = errors.New("contract has no buyer")
	ErrInvalidBuyer                             = errors.New("invalid token buyer")
	ErrContractValueIsNotMultipleOfInstallments = errors.New("contract value is not multiple of installments")
	ErrBadContractExpiration                    = errors.New("bad contract expiration")
	ErrInvalidDeposit                           = errors.New("invalid deposit")
	ErrInvalidKind                              = errors.New("invalid contract kind")
	ErrInvalidProperty                          = errors.New("invalid property")
)

// Authorization errors
var ErrUnauthorized = errors.New("unauthorized")

// Lookup errors
var (
	ErrContractNotFound = errors.New("contract not found")
	ErrTokenNotFound    = errors.New("token not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// State errors
var (
	ErrContractClosed      = errors.New("contract closed")
	ErrContractNotExpired  = errors.New("contract not expired")
	ErrContractPaid        = errors.New("contract fully paid")
	ErrContractNotPaid     = errors.New("contract not fully paid")
	ErrContractNotActive   = errors.New("contract not active")
	ErrTokenAlreadySold    = errors.New("token already sold")
	ErrTokenBurned         = errors.New("token burned")
	ErrTokenSaleInProgress = errors.New("token sale in progress")
)

// ErrRegistrationIncomplete wraps failures after the deposit was collected.
// The contract stays pending and the registration is resumed later.
var ErrRegistrationIncomplete = errors.New("contract registration incomplete")

// ErrMirrorFailed wraps Ethereum mirror failures
var ErrMirrorFailed = errors.New("ethereum mirror call failed")

// LiquidityPoolHasNotEnoughICPError is returned when closing would leave the refund unpayable
type LiquidityPoolHasNotEnoughICPError struct {
	Required  uint64
	Available uint64
}

func (e *LiquidityPoolHasNotEnoughICPError) Error() string {
	return fmt.Sprintf("liquidity pool has not enough ICP: required %d, available %d", e.Required, e.Available)
}

func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrCurrencyNotAllowed, ErrContractHasNoSeller, ErrContractSellerQuotaIsNot100,
		ErrDuplicateSeller, ErrContractHasNoBuyer, ErrContractValueIsNotMultipleOfInstallments,
		ErrBadContractExpiration, ErrInvalidDeposit, ErrInvalidKind, ErrInvalidProperty,
		ErrInvalidBuyer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsStateError(err error) bool {
	for _, target := range []error{
		ErrContractClosed, ErrContractNotExpired, ErrContractPaid, ErrContractNotPaid,
		ErrContractNotActive, ErrTokenAlreadySold, ErrTokenBurned, ErrTokenSaleInProgress,
		escrow.ErrAlreadyWithdrawn,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrContractNotFound) || errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrDocumentNotFound)
}

func IsFundsError(err error) bool {
	var (
		allowanceErr *escrow.AllowanceNotEnoughError
		liquidityErr *LiquidityPoolHasNotEnoughICPError
		transferErr  *ledger.TransferError
	)
	return errors.As(err, &allowanceErr) ||
		errors.As(err, &liquidityErr) ||
		errors.As(err, &transferErr) ||
		errors.Is(err, escrow.ErrAllowanceExpired) ||
		errors.Is(err, escrow.ErrInvalidTransferAmount) ||
		errors.Is(err, escrow.ErrNotEnoughHeld) ||
		errors.Is(err, rewards.ErrNotEnoughTokens) ||
		errors.Is(err, rewards.ErrPoolNotFound)
}

func IsCrossActorError(err error) bool {
	var callErr *ledger.CallError
	return errors.As(err, &callErr) || errors.Is(err, ErrMirrorFailed)
}

// StatusFor maps a service error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrRegistrationIncomplete):
		return http.StatusAccepted
	case IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case IsNotFoundError(err):
		return http.StatusNotFound
	case IsStateError(err):
		return http.StatusConflict
	case IsFundsError(err):
		return http.StatusUnprocessableEntity
	case IsCrossActorError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
