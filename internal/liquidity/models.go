package liquidity

import (
	"errors"
	"time"
)

var ErrNothingToWithdraw = errors.New("nothing to withdraw")

// Refund is the pending amount a principal may withdraw from the pool
type Refund struct {
	Principal string    `json:"principal" db:"principal"`
	Amount    uint64    `json:"amount" db:"amount"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RefundCredit records the refund issued by closing one contract
type RefundCredit struct {
	ContractID uint64    `json:"contract_id" db:"contract_id"`
	Principal  string    `json:"principal" db:"principal"`
	Amount     uint64    `json:"amount" db:"amount"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// WithdrawRefundRequest
type WithdrawRefundRequest struct {
	Subaccount string `json:"subaccount,omitempty"`
}
