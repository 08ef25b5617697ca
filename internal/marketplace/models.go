package marketplace

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"deferred-estate/settlement-backend/internal/ledger"
)

var (
	ErrTokenHasNoOwner        = errors.New("token has no owner")
	ErrCallerAlreadyOwnsToken = errors.New("caller already owns the token")
	ErrAllowanceExpired       = errors.New("payment allowance expired")
	ErrPaymentRejected        = errors.New("token payment rejected")
	ErrRateUnavailable        = errors.New("exchange rate unavailable")
	ErrPurchaseNotFound       = errors.New("purchase not found")
)

// AllowanceNotEnoughError is returned when the buyer approved less than the quote total
type AllowanceNotEnoughError struct {
	Required  uint64
	Available uint64
}

func (e *AllowanceNotEnoughError) Error() string {
	return fmt.Sprintf("payment allowance not enough: required %d, available %d", e.Required, e.Available)
}

// Quote is the price of a token for a given caller, in ledger base units
type Quote struct {
	ContractID      uint64 `json:"contract_id"`
	Index           uint64 `json:"index"`
	Currency        string `json:"currency"`
	TokenValue      uint64 `json:"token_value"`
	Rate            string `json:"rate"`
	Price           uint64 `json:"price"`
	Interest        uint64 `json:"interest"`
	Fee             uint64 `json:"fee"`
	Fees            uint64 `json:"fees"`
	Total           uint64 `json:"total"`
	IsContractBuyer bool   `json:"is_contract_buyer"`
	IsFirstSale     bool   `json:"is_first_sale"`
	Owner           string `json:"owner"`
}

// PriceWithInterest is what the buyer pays before ledger fees
func (q *Quote) PriceWithInterest() uint64 {
	return q.Price + q.Interest
}

type PurchaseStatus string

const (
	// PurchasePending: the payment pull has been sent but not confirmed
	PurchasePending PurchaseStatus = "pending"
	// PurchasePaid: funds sit in the purchase subaccount, the token is not sold yet
	PurchasePaid     PurchaseStatus = "paid"
	PurchaseSold     PurchaseStatus = "sold"
	PurchaseSettled  PurchaseStatus = "settled"
	PurchaseRefunded PurchaseStatus = "refunded"
	PurchaseFailed   PurchaseStatus = "failed"
)

// Purchase journals one buy attempt. Funds are pulled into a subaccount derived
// from the purchase id, so balances alone tell which transfers already happened.
type Purchase struct {
	ID             string                             `gorm:"primaryKey;size:36" json:"id"`
	ContractID     uint64                             `gorm:"not null;index:idx_purchase_token" json:"contract_id"`
	Index          uint64                             `gorm:"not null;column:idx;index:idx_purchase_token" json:"index"`
	Buyer          string                             `gorm:"size:128;not null;index" json:"buyer"`
	BuyerAccount   datatypes.JSONType[ledger.Account] `json:"buyer_account"`
	Seller         string                             `gorm:"size:128;not null" json:"seller"`
	Price          uint64                             `gorm:"not null" json:"price"`
	Interest       uint64                             `gorm:"not null" json:"interest"`
	Fee            uint64                             `gorm:"not null" json:"fee"`
	Pulled         uint64                             `gorm:"not null" json:"pulled"`
	Status         PurchaseStatus                     `gorm:"size:16;not null;index" json:"status"`
	PaymentRef     string                             `gorm:"size:64" json:"payment_ref,omitempty"`
	PaymentTx      *uint64                            `json:"payment_tx,omitempty"`
	SellerPaidAt   *time.Time                         `json:"seller_paid_at,omitempty"`
	SellerTx       *uint64                            `json:"seller_tx,omitempty"`
	InterestPaidAt *time.Time                         `json:"interest_paid_at,omitempty"`
	InterestTx     *uint64                            `json:"interest_tx,omitempty"`
	RefundTx       *uint64                            `json:"refund_tx,omitempty"`
	LastError      string                             `gorm:"size:512" json:"last_error,omitempty"`
	CreatedAt      time.Time                          `json:"created_at"`
	UpdatedAt      time.Time                          `json:"updated_at"`
}

// Subaccount is the marketplace subaccount holding this purchase's funds
func (p *Purchase) Subaccount() ledger.Subaccount {
	var sub ledger.Subaccount
	id, err := uuid.Parse(p.ID)
	if err == nil {
		copy(sub[16:], id[:])
	}
	return sub
}

// Open reports whether the purchase still needs work
func (p *Purchase) Open() bool {
	return !purchaseFlow.Terminal(p.Status)
}
