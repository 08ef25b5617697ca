package escrow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAllowanceExpired      = errors.New("allowance expired")
	ErrDepositRejected       = errors.New("deposit transfer rejected")
	ErrInvalidTransferAmount = errors.New("invalid transfer amount")
	ErrAlreadyWithdrawn      = errors.New("deposit share already withdrawn")
	ErrNotEnoughHeld         = errors.New("escrow holds less than requested")
)

// AllowanceNotEnoughError is returned when the buyer approved less than deposit plus fee
type AllowanceNotEnoughError struct {
	Required  uint64
	Available uint64
}

func (e *AllowanceNotEnoughError) Error() string {
	return fmt.Sprintf("allowance not enough: required %d, available %d", e.Required, e.Available)
}

// Deposit is the buyer security amount with its frozen fiat rate
type Deposit struct {
	ValueFiat uint64 `json:"value_fiat"`
	ValueICP  uint64 `json:"value_icp"`
}

type MovementKind string

const (
	MovementDeposit      MovementKind = "deposit"
	MovementDistribution MovementKind = "distribution"
	MovementSettlement   MovementKind = "settlement"
)

type MovementStatus string

const (
	StatusPending   MovementStatus = "pending"
	StatusCompleted MovementStatus = "completed"
)

// Movement is a journal entry of funds entering or leaving a contract escrow.
// Amount is what the escrow subaccount gains (deposit) or loses (fee included).
type Movement struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	ContractID   uint64         `gorm:"not null;uniqueIndex:idx_escrow_movement_key,priority:1" json:"contract_id"`
	Key          string         `gorm:"column:movement_key;not null;size:160;uniqueIndex:idx_escrow_movement_key,priority:2" json:"key"`
	Kind         MovementKind   `gorm:"not null;size:16" json:"kind"`
	Status       MovementStatus `gorm:"not null;size:16" json:"status"`
	Counterparty string         `gorm:"size:200" json:"counterparty"`
	Amount       uint64         `gorm:"not null" json:"amount"`
	Fee          uint64         `json:"fee"`
	RefundAmount uint64         `json:"refund_amount,omitempty"`
	TxID         *uint64        `json:"tx_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Movement) TableName() string {
	return "escrow_movements"
}

// Sent is the amount the counterparty received for an outgoing movement
func (m *Movement) Sent() uint64 {
	if m.Kind == MovementDeposit || m.Amount < m.Fee {
		return m.Amount
	}
	return m.Amount - m.Fee
}

// Withdrawal marks the deposit share of a seller as claimed
type Withdrawal struct {
	ContractID uint64    `gorm:"primaryKey" json:"contract_id"`
	Seller     string    `gorm:"primaryKey;size:128" json:"seller"`
	MovementID string    `gorm:"size:36" json:"movement_id"`
	Amount     uint64    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Withdrawal) TableName() string {
	return "escrow_withdrawals"
}

func depositKey() string {
	return string(MovementDeposit)
}

func settlementKey() string {
	return string(MovementSettlement)
}

func distributionKey(seller string) string {
	return string(MovementDistribution) + ":" + seller
}
